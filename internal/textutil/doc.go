// Package textutil holds small string helpers for path segments and
// timestamp formatting shared by the store, staging area, and HTTP routes.
package textutil
