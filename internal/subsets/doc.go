// Package subsets persists named, ordered lists of (dataset, camera,
// annotation kind) tuples in SQLite. Subsets are plain data: they are never
// cached and saving one replaces its entries in a single transaction.
package subsets
