// Package staging stores pending annotation edits.
//
// Each edit is one batch file per (dataset, camera, kind, timestamp), laid
// out as <root>/<dataset>/<camera>/<kind>/<timestamp>.json. Staging the same
// timestamp again overwrites the batch. A key directory also holds the lock
// file that serializes staging against reconciliation of that key, across
// goroutines and processes.
package staging
