// Package main hosts the videoxt CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into HTTP calls
// against the review daemon: browsing datasets and series, staging and
// reconciling annotation edits, and managing subsets. It also scaffolds
// configuration, runs the daemon in the foreground or background, and tails
// the daemon log.
//
// Keep this package lean: new behavior belongs in the internal packages first
// and is surfaced here through dedicated commands or flags.
package main
