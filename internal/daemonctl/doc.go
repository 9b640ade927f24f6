// Package daemonctl starts and stops a background videoxt daemon.
//
// Liveness is judged through the daemon's HTTP health endpoint. Start launches
// a detached `videoxt serve`; stop signals the process named by the status
// endpoint or the pid file next to the instance lock.
package daemonctl
