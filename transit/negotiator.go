package transit

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wlynxg/anet"

	"github.com/opd-ai/wormhole-go/crypto"
	"github.com/opd-ai/wormhole-go/proto"
)

// RelayServer names one relay's direct-tcp endpoint. A Negotiator with no
// configured relays advertises direct hints only.
type RelayServer struct {
	Hostname string
	Port     uint16
}

// Negotiator builds this side's transit hints and listens for an inbound
// direct connection while racing outbound connects to every hint the peer
// advertised. The race is decided by TCP connect (plus the relay prelude
// for relay hints), not by the transit handshake: the caller runs
// SenderHandshake or ReceiverHandshake on the winner only, and a winner
// whose handshake fails is not replaced by another candidate. One
// Negotiator serves one file transfer.
type Negotiator struct {
	relays []RelayServer
}

// NewNegotiator creates a Negotiator that additionally advertises the
// given relay servers alongside its local direct hints.
func NewNegotiator(relays ...RelayServer) *Negotiator {
	return &Negotiator{relays: relays}
}

// listener wraps the ephemeral TCP listener this side opens before
// sending its transit message, so the caller can keep accepting while it
// also dials the peer's hints.
type listener struct {
	ln   net.Listener
	port uint16
}

func (n *Negotiator) listen() (*listener, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("transit: listen: %w", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	return &listener{ln: ln, port: port}, nil
}

// BuildMessage enumerates this host's non-loopback IPv4 addresses and
// returns the transit message to send to the peer over the "transit"
// phase, alongside the listener that must remain open until the
// connection race completes. Callers that configured no relay servers
// still advertise AbilityRelayV1; a relay-only offer from the peer with
// no reachable relay is simply never chosen by the race.
func (n *Negotiator) BuildMessage() (Message, *listener, error) {
	ln, err := n.listen()
	if err != nil {
		return Message{}, nil, err
	}

	hints, err := n.directHints(ln.port)
	if err != nil {
		ln.ln.Close()
		return Message{}, nil, err
	}
	if relay := n.relayHint(); relay != nil {
		hints = append(hints, *relay)
	}

	msg := Message{Abilities: proto.DefaultAbilities(), Hints: hints}
	return msg, ln, nil
}

// directHints enumerates non-loopback IPv4 addresses reachable on the
// given listening port. wlynxg/anet is used instead of net.Interfaces
// because it normalizes interface enumeration across the platforms this
// module targets, including ones where net.InterfaceAddrs under-reports
// addresses.
func (n *Negotiator) directHints(port uint16) ([]proto.Hint, error) {
	addrs, err := anet.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("transit: enumerate interfaces: %w", err)
	}

	var hints []proto.Hint
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		hints = append(hints, proto.Hint{Direct: &proto.DirectTcp{
			Priority: 0,
			Hostname: ip4.String(),
			Port:     port,
		}})
	}

	logrus.WithFields(logrus.Fields{
		"package": "transit",
		"count":   len(hints),
	}).Debug("built direct transit hints")
	return hints, nil
}

func (n *Negotiator) relayHint() *proto.Hint {
	if len(n.relays) == 0 {
		return nil
	}
	sub := make([]proto.DirectTcp, 0, len(n.relays))
	for _, r := range n.relays {
		sub = append(sub, proto.DirectTcp{Priority: 0, Hostname: r.Hostname, Port: r.Port})
	}
	return &proto.Hint{Relay: &proto.Relay{Hints: sub}}
}

// candidateAddrs flattens a peer's transit message into dialable
// "host:port" strings, direct hints first and relay hints after, so the
// cheaper LAN paths get a head start on the race.
func candidateAddrs(peer Message) []string {
	var direct, relay []string
	for _, h := range peer.Hints {
		switch {
		case h.IsDirect():
			direct = append(direct, net.JoinHostPort(h.Direct.Hostname, strconv.Itoa(int(h.Direct.Port))))
		case h.IsRelay():
			for _, d := range h.Relay.Hints {
				relay = append(relay, net.JoinHostPort(d.Hostname, strconv.Itoa(int(d.Port))))
			}
		}
	}
	return append(direct, relay...)
}

// winningConn is one candidate connection that completed, tagged with
// whether it needs the relay prelude before the record handshake.
type winningConn struct {
	conn    net.Conn
	isRelay bool
}

// Connect races an inbound accept on ln against outbound dials to every
// address peer advertised, cancelling every loser once one candidate
// completes its relay prelude (if any) and is ready for the record
// handshake. The winning connection's nonce-handshake has NOT yet run;
// callers complete it with SenderHandshake/ReceiverHandshake.
func (n *Negotiator) Connect(ctx context.Context, ln *listener, peer Message, transitKey [crypto.SecretBoxKeySize]byte, side proto.Side) (net.Conn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	relaySet := relayAddrSet(peer)
	addrs := candidateAddrs(peer)

	// Unbuffered: a candidate that completes after the race is decided
	// blocks until ctx is cancelled and then closes its connection.
	results := make(chan winningConn)
	// Buffered for every candidate plus the accept path, so losing
	// attempts never block on a race already decided.
	errs := make(chan error, len(addrs)+1)
	var pending int

	pending += len(addrs)
	for _, addr := range addrs {
		addr, isRelay := addr, relaySet[addr]
		go func() {
			conn, err := dialOne(ctx, addr, isRelay, transitKey, string(side))
			if err != nil {
				errs <- err
				return
			}
			select {
			case results <- winningConn{conn: conn, isRelay: isRelay}:
			case <-ctx.Done():
				conn.Close()
			}
		}()
	}

	pending++
	go func() {
		conn, err := acceptOne(ctx, ln.ln)
		if err != nil {
			errs <- err
			return
		}
		select {
		case results <- winningConn{conn: conn, isRelay: false}:
		case <-ctx.Done():
			conn.Close()
		}
	}()

	var lastErr error
	for i := 0; i < pending; i++ {
		select {
		case win := <-results:
			cancel()
			ln.ln.Close()
			return win.conn, nil
		case lastErr = <-errs:
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("transit: no candidate connection succeeded")
	}
	return nil, lastErr
}

func relayAddrSet(peer Message) map[string]bool {
	set := make(map[string]bool)
	for _, h := range peer.Hints {
		if !h.IsRelay() {
			continue
		}
		for _, d := range h.Relay.Hints {
			set[net.JoinHostPort(d.Hostname, strconv.Itoa(int(d.Port)))] = true
		}
	}
	return set
}

// bufferedConn keeps a relay connection's *bufio.Reader paired with the
// socket after the relay prelude, so any bytes the reader buffered past
// the "ok\n" line are not lost to later handshake reads.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func dialOne(ctx context.Context, addr string, isRelay bool, transitKey [crypto.SecretBoxKeySize]byte, side string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transit: dial %s: %w", addr, err)
	}
	if isRelay {
		reader := bufio.NewReader(conn)
		if err := relayHandshake(reader, conn, transitKey, side); err != nil {
			conn.Close()
			return nil, err
		}
		return bufferedConn{Conn: conn, r: reader}, nil
	}
	return conn, nil
}

func acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

// SenderHandshake performs the sending side's record-stream handshake on
// the winning connection.
func SenderHandshake(conn net.Conn, transitKey [crypto.SecretBoxKeySize]byte) error {
	return senderHandshake(conn, conn, transitKey)
}

// ReceiverHandshake performs the receiving side's record-stream handshake
// on the winning connection.
func ReceiverHandshake(conn net.Conn, transitKey [crypto.SecretBoxKeySize]byte) error {
	return receiverHandshake(conn, conn, transitKey)
}

// NewTransitSide generates the per-connection side token used in the
// relay prelude. It is independent of the session's proto.Side.
func NewTransitSide() (proto.Side, error) { return proto.NewSide() }

// HandshakeTimeout bounds how long the connection race and handshake
// may take before the caller gives up and falls through to failure.
const HandshakeTimeout = 30 * time.Second
