// Package api is the operation surface the HTTP routes and the CLI share.
//
// Service composes the media caches, the staging store, the reconciler, and
// the subset store. Every operation validates its arguments, runs against the
// cached collaborators, and returns transport-friendly values: tables encode
// as {"columns", "records"}, frames as JPEG bytes, and errors keep the
// services markers so the route layer can pick a status code.
//
// DTOs use camelCase JSON tags. Subset entries keep the videoset,
// camera, and annotation_suffix names the review frontend already sends.
package api
