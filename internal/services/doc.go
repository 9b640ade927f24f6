// Package services defines shared utilities consumed by the cache, staging,
// reconciliation, and HTTP layers.
//
// Key responsibilities:
//   - Context helpers that stamp the dataset/camera/annotation-kind being
//     served and the request correlation identifier for logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into a small taxonomy (not found, invalid input, compute failure,
//     reconciliation conflict) the route layer maps onto status codes.
//
// Use these helpers when wiring new operations so error surfaces and log
// fields stay uniform across the daemon and the CLI.
package services
