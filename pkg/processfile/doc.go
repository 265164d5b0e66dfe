// Package processfile places the supervisor's own process files: the daemon
// PID file and the default unit root, following each OS's conventions for
// system, user and session services.
package processfile
