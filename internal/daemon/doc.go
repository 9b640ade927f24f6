// Package daemon runs the long-lived videoxt review process.
//
// A Daemon wraps an api.Service with an HTTP/JSON route layer and holds a
// flock on <state_dir>/videoxtd.lock so only one instance serves a state
// directory. Routes live under /api/; camera path segments carry "/" escaped
// as "___". Service errors map onto status codes by taxonomy: not found 404,
// invalid input 400, reconciliation conflict 409, anything else 500, always
// with a JSON {"error": "..."} body. GET /api/logs serves the daemon log by
// byte offset for `videoxt logs`.
//
// Keep domain logic out of this package: handlers decode the request, call the
// service, and encode the result.
package daemon
