// Package lrucache provides a bounded get-or-compute cache with least recently
// used eviction.
//
// A single mutex guards the whole lookup, including the compute call on a
// miss. Concurrent misses on the same key therefore compute once, and a slow
// compute for one key delays lookups of every other key in the same cache.
// Callers that need independent progress use separate caches.
//
// A compute error is returned to the caller and nothing is stored, so the
// next lookup of that key computes again.
package lrucache
