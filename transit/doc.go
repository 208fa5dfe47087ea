// Package transit negotiates a direct or relay-mediated TCP channel
// between two peers that have already derived a shared transit key, and
// streams one encrypted file over the winning connection.
//
// A Negotiator enumerates local reachable endpoints, exchanges them with
// the peer over the rendezvous mailbox (via the caller, which owns that
// channel), and races every candidate connection attempt; the first
// connection to complete (TCP connect, plus the relay prelude for relay
// hints) wins. The caller then runs the transit handshake on that one
// connection with SenderHandshake or ReceiverHandshake. Once the
// handshake's "go\n" line is exchanged, SendFile or ReceiveFile runs
// the encrypted record stream over the winning connection, driving a
// file.Transfer and verifying the closing transit-ack digest.
package transit
