// Package rendezvous connects the protocol engine to a rendezvous
// server. The Adapter and Dispatcher interfaces name the boundary: the
// events an adapter delivers inward and the actions the mailbox machine
// asks it to perform outward. Client is the default Adapter, speaking
// the server's JSON framing over a WebSocket; hosts with their own
// transport substitute any Adapter implementation.
package rendezvous
