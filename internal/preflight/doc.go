// Package preflight provides readiness checks for the filesystem paths and
// stores videoxt depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and refuses to serve when a required
//     check fails.
//   - The CLI "videoxt status" command uses the individual checks
//     (CheckDirectoryAccess, CheckDaemon) to display local health.
package preflight
