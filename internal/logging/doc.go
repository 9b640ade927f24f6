// Package logging assembles structured slog loggers for the daemon and CLI.
//
// It owns the console and JSON handlers, level and output plumbing, and
// context helpers that tag log lines with the dataset, camera, annotation
// kind, and request id carried on a context. NewNop gives tests and wiring
// code a logger that cannot fail.
package logging
