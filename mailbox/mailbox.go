package mailbox

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wormhole-go/proto"
)

// ErrInvariantViolation is returned when an event is delivered to a state
// that cannot handle it. This is always a host-layer bug: the runtime
// delivered an event out of the order the mailbox's connection and
// lifecycle protocol allows.
var ErrInvariantViolation = errors.New("mailbox: event delivered to an incompatible state")

type stateID int

const (
	s0A stateID = iota
	s0B
	s1A
	s2A
	s2B
	s3A
	s3B
	s4A
	s4B
)

func (s stateID) String() string {
	names := [...]string{"S0A", "S0B", "S1A", "S2A", "S2B", "S3A", "S3B", "S4A", "S4B"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// Machine is the mailbox state machine. Not safe for concurrent
// use; the host runtime must serialize calls to its event methods.
type Machine struct {
	side    proto.Side
	state   stateID
	mailbox string
	mood    proto.Mood

	outbound  map[proto.Phase][]byte
	processed map[proto.Phase]struct{}
}

// New creates a mailbox machine in state S0A (disconnected, mailbox
// unknown), owned by the given side.
func New(side proto.Side) *Machine {
	return &Machine{
		side:      side,
		state:     s0A,
		outbound:  make(map[proto.Phase][]byte),
		processed: make(map[proto.Phase]struct{}),
	}
}

// Output carries everything one event produced: rendezvous I/O actions,
// nameplate-release notifications, and inbound messages forwarded to the
// receive machine.
type Output struct {
	RC          []proto.RendezvousAction
	Nameplate   []proto.NameplateRelease
	ToReceive   []proto.InboundMessage
	MailboxDone bool
}

func (o *Output) addRC(a proto.RendezvousAction)      { o.RC = append(o.RC, a) }
func (o *Output) addRelease()                         { o.Nameplate = append(o.Nameplate, proto.NameplateRelease{}) }
func (o *Output) addToReceive(m proto.InboundMessage) { o.ToReceive = append(o.ToReceive, m) }

func (m *Machine) logTransition(event string) {
	logrus.WithFields(logrus.Fields{
		"package": "mailbox",
		"state":   m.state.String(),
		"event":   event,
	}).Debug("processing mailbox event")
}

// flushOutbound emits TxOpen for mb followed by TxAdd for every
// currently queued phase message, then drains the queue. The open must
// precede the adds; the server rejects deposits into an unopened
// mailbox.
func (m *Machine) flushOutbound(out *Output, mb string) {
	out.addRC(proto.TxOpen{Mailbox: mb})
	for phase, body := range m.outbound {
		out.addRC(proto.TxAdd{Phase: phase, Body: body})
	}
	m.outbound = make(map[proto.Phase][]byte)
}

// Connected signals the rendezvous connection has come up.
func (m *Machine) Connected() (Output, error) {
	m.logTransition("Connected")
	var out Output
	switch m.state {
	case s0A:
		m.state = s0B
	case s1A:
		m.flushOutbound(&out, m.mailbox)
		m.state = s2B
	case s2A:
		m.flushOutbound(&out, m.mailbox)
		m.state = s2B
	case s3A:
		out.addRC(proto.TxClose{Mood: m.mood})
		m.state = s3B
	case s4A:
		m.state = s4B
	default:
		return out, m.invariantError("Connected")
	}
	return out, nil
}

// Lost signals the rendezvous connection has dropped.
func (m *Machine) Lost() (Output, error) {
	m.logTransition("Lost")
	var out Output
	switch m.state {
	case s0B:
		m.state = s0A
	case s2B:
		m.state = s2A
	case s3B:
		m.state = s3A
	case s4B:
		m.state = s4B
	default:
		return out, m.invariantError("Lost")
	}
	return out, nil
}

// GotMailbox delivers the mailbox id allocated by the nameplate
// collaborator.
func (m *Machine) GotMailbox(mb string) (Output, error) {
	m.logTransition("GotMailbox")
	var out Output
	switch m.state {
	case s0A:
		m.mailbox = mb
		m.state = s1A
	case s0B:
		m.mailbox = mb
		m.flushOutbound(&out, mb)
		m.state = s2B
	default:
		return out, m.invariantError("GotMailbox")
	}
	return out, nil
}

// AddMessage enqueues an outbound phase message. While the mailbox is
// open it is also flushed to the rendezvous adapter immediately.
func (m *Machine) AddMessage(phase proto.Phase, body []byte) (Output, error) {
	m.logTransition("AddMessage")
	var out Output
	switch m.state {
	case s0A, s0B, s1A, s2A:
		m.outbound[phase] = body
	case s2B:
		m.outbound[phase] = body
		out.addRC(proto.TxAdd{Phase: phase, Body: body})
	case s3B, s4B:
		// absorbed as noise while closing or closed
	default:
		return out, m.invariantError("AddMessage")
	}
	return out, nil
}

// RxMessage delivers one inbound phase message as received from the
// rendezvous server.
func (m *Machine) RxMessage(msg proto.InboundMessage) (Output, error) {
	m.logTransition("RxMessage")
	var out Output
	switch m.state {
	case s2B:
		if msg.Side == m.side {
			// our own echo: confirms delivery, remove from outbound queue
			delete(m.outbound, msg.Phase)
			return out, nil
		}
		out.addRelease()
		if _, already := m.processed[msg.Phase]; already {
			return out, nil
		}
		m.processed[msg.Phase] = struct{}{}
		out.addToReceive(msg)
	case s3B, s4B:
		// absorbed as noise while closing or closed
	default:
		return out, m.invariantError("RxMessage")
	}
	return out, nil
}

// Close requests the mailbox be closed with the given mood.
func (m *Machine) Close(mood proto.Mood) (Output, error) {
	m.logTransition("Close")
	var out Output
	switch m.state {
	case s0A:
		m.state = s4A
		out.MailboxDone = true
	case s0B:
		m.state = s4B
		out.MailboxDone = true
	case s1A:
		m.state = s4A
		out.MailboxDone = true
	case s2A:
		m.mood = mood
		m.state = s3A
	case s2B:
		m.mood = mood
		out.addRC(proto.TxClose{Mood: mood})
		m.state = s3B
	case s3B:
		// A second Close reaffirms the state; the mood of the first
		// Close is kept, not overridden.
	case s4B:
		// absorbed, session already closed
	default:
		return out, m.invariantError("Close")
	}
	return out, nil
}

// RxClosed delivers the rendezvous server's acknowledgement that the
// mailbox has been closed.
func (m *Machine) RxClosed() (Output, error) {
	m.logTransition("RxClosed")
	var out Output
	switch m.state {
	case s3B:
		m.state = s4B
		out.MailboxDone = true
	default:
		return out, m.invariantError("RxClosed")
	}
	return out, nil
}

func (m *Machine) invariantError(event string) error {
	return fmt.Errorf("%w: state=%s event=%s", ErrInvariantViolation, m.state, event)
}
