package proto

// InboundMessage is one phase message as delivered by the rendezvous
// adapter, annotated with the side that sent it. The mailbox machine
// uses Side to distinguish a peer's traffic from its own echoes before
// handing peer traffic on to the receive machine.
type InboundMessage struct {
	Side  Side
	Phase Phase
	Body  []byte
}

// APIAction is one event the protocol engine surfaces to the
// application. Exactly one concrete type below implements it per
// action; callers type-switch to handle each upward event.
type APIAction interface{ isAPIAction() }

// GotWelcome carries the rendezvous server's free-form welcome payload.
type GotWelcome struct{ Welcome map[string]interface{} }

// GotCode carries the code once allocated or confirmed, so the
// application can display it for the peer to type.
type GotCode struct{ Code Code }

// GotUnverifiedKey fires the moment the key machine completes the PAKE,
// before any phase message has been authenticated against it. Safe to
// use for deriving a transit key; not safe to treat as proof the peer
// used the matching code.
type GotUnverifiedKey struct{ Key [32]byte }

// GotVerifier carries a value the user can read aloud and compare with
// the peer out-of-band, once the key has been confirmed by a successful
// decrypt.
type GotVerifier struct{ Verifier [32]byte }

// GotVersions carries the decrypted app_versions announcement.
type GotVersions struct{ Versions map[string]interface{} }

// GotMessage carries one decrypted application-phase plaintext.
type GotMessage struct{ Body []byte }

// GotClosed reports the session's terminal disposition.
type GotClosed struct{ Mood Mood }

func (GotWelcome) isAPIAction()       {}
func (GotCode) isAPIAction()          {}
func (GotUnverifiedKey) isAPIAction() {}
func (GotVerifier) isAPIAction()      {}
func (GotVersions) isAPIAction()      {}
func (GotMessage) isAPIAction()       {}
func (GotClosed) isAPIAction()        {}

// RendezvousAction is one instruction the mailbox machine issues to the
// I/O adapter that speaks to the rendezvous server.
type RendezvousAction interface{ isRendezvousAction() }

// TxOpen requests the adapter announce use of the named mailbox.
type TxOpen struct{ Mailbox string }

// TxAdd requests the adapter deposit one phase message into the mailbox.
type TxAdd struct {
	Phase Phase
	Body  []byte
}

// TxClose requests the adapter close the mailbox with the given mood.
type TxClose struct{ Mood Mood }

func (TxOpen) isRendezvousAction()  {}
func (TxAdd) isRendezvousAction()   {}
func (TxClose) isRendezvousAction() {}

// NameplateRelease signals that the nameplate collaborator may release
// its reservation: the mailbox is in active two-sided use.
type NameplateRelease struct{}
