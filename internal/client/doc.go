// Package client is the HTTP client the videoxt CLI uses to talk to a running
// daemon. Non-2xx responses become *StatusError values that unwrap to the
// services markers, so errors.Is(err, services.ErrNotFound) works across the
// wire.
package client
