// Package watch turns host signals into connection manager input.
//
// Network probes reachability of the server on an interval and reports it
// through SetOnline. Visibility relays foreground/background changes through
// SetVisible. Both cause the manager to run its reconnect check, so a dropped
// connection comes back once the host is online and visible again.
package watch
