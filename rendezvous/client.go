package rendezvous

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wormhole-go/crypto"
	"github.com/opd-ai/wormhole-go/proto"
)

// frame is the rendezvous server's JSON message shape, shared by both
// directions. Only the fields relevant to a given type are populated.
type frame struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id,omitempty"`
	AppID     string                 `json:"appid,omitempty"`
	Side      string                 `json:"side,omitempty"`
	Nameplate string                 `json:"nameplate,omitempty"`
	Mailbox   string                 `json:"mailbox,omitempty"`
	Phase     string                 `json:"phase,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Mood      string                 `json:"mood,omitempty"`
	Welcome   map[string]interface{} `json:"welcome,omitempty"`
}

// Client is a WebSocket implementation of Adapter speaking the
// rendezvous server's JSON framing: it binds an (appid, side) pair on
// connect, claims a nameplate into a mailbox, and shuttles phase
// messages with hex-encoded bodies. Inbound traffic is routed to the
// Dispatcher handed to Connect, from a single reader goroutine.
type Client struct {
	url   string
	appID proto.AppID
	side  proto.Side

	dialTimeout  time.Duration
	writeTimeout time.Duration

	onWelcome   func(map[string]interface{})
	onAllocated func(string)

	mu      sync.Mutex
	conn    *websocket.Conn
	mailbox string
	msgSeq  uint64
}

// NewClient creates a rendezvous client for the given server URL
// (for example "ws://relay.example.org:4000/v1"), bound to the
// session's application id and side.
func NewClient(url string, appID proto.AppID, side proto.Side) *Client {
	return &Client{
		url:          url,
		appID:        appID,
		side:         side,
		dialTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
	}
}

// OnWelcome registers the callback invoked with the server's welcome
// payload. Register before Connect; the welcome is the first frame the
// server sends.
func (c *Client) OnWelcome(cb func(map[string]interface{})) { c.onWelcome = cb }

// Connect dials the server, performs the bind, and starts routing
// inbound frames to d. It reports Connected to d once the socket is up.
func (c *Client) Connect(ctx context.Context, d Dispatcher) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("rendezvous: already connected")
	}

	dialer := &websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("rendezvous: dial %s (HTTP %d): %w", c.url, resp.StatusCode, err)
		}
		return fmt.Errorf("rendezvous: dial %s: %w", c.url, err)
	}

	c.conn = conn

	if err := c.writeFrameLocked(frame{
		Type:  "bind",
		AppID: string(c.appID),
		Side:  string(c.side),
	}); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}

	logrus.WithFields(logrus.Fields{
		"package": "rendezvous",
		"url":     c.url,
		"side":    c.side,
	}).Info("bound to rendezvous server")

	go c.readLoop(conn, d)
	d.Connected()
	return nil
}

// AllocateNameplate asks the server for a fresh nameplate. The server
// answers with an allocated frame, delivered to the callback registered
// with OnAllocated; composing the nameplate with code words into a full
// code is the caller's concern.
func (c *Client) AllocateNameplate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFrameLocked(frame{Type: "allocate"})
}

// OnAllocated registers the callback invoked with the nameplate the
// server allocated. Register before AllocateNameplate.
func (c *Client) OnAllocated(cb func(nameplate string)) { c.onAllocated = cb }

// ClaimNameplate asks the server for the mailbox behind the given
// nameplate (the numeric prefix of a code). The server answers with a
// claimed frame, which is routed to the Dispatcher as GotMailbox.
func (c *Client) ClaimNameplate(nameplate string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFrameLocked(frame{Type: "claim", Nameplate: nameplate})
}

// ReleaseNameplate tells the server this side no longer needs the
// nameplate. The mailbox machine signals the right moment for this:
// once peer traffic proves both sides are in the mailbox.
func (c *Client) ReleaseNameplate(nameplate string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFrameLocked(frame{Type: "release", Nameplate: nameplate})
}

// Open implements Adapter.
func (c *Client) Open(mailbox string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mailbox = mailbox
	return c.writeFrameLocked(frame{Type: "open", Mailbox: mailbox})
}

// Add implements Adapter. The body is hex-encoded for the wire, as the
// server stores bodies as JSON strings.
func (c *Client) Add(phase proto.Phase, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"package": "rendezvous",
		"phase":   phase,
	}).WithFields(crypto.SecureFieldHash(body, "body")).Debug("depositing phase message")
	return c.writeFrameLocked(frame{
		Type:  "add",
		Phase: string(phase),
		Body:  hex.EncodeToString(body),
	})
}

// Close implements Adapter, closing the mailbox with the session's
// terminal mood.
func (c *Client) Close(mood proto.Mood) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFrameLocked(frame{Type: "close", Mailbox: c.mailbox, Mood: string(mood)})
}

// Disconnect tears the socket down. The reader goroutine observes the
// close and reports Lost to the Dispatcher.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	closeErr := c.conn.Close()
	c.conn = nil
	if err != nil {
		return err
	}
	return closeErr
}

func (c *Client) writeFrameLocked(f frame) error {
	if c.conn == nil {
		return fmt.Errorf("rendezvous: not connected")
	}
	f.ID = strconv.FormatUint(c.msgSeq, 16)
	c.msgSeq++

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("rendezvous: set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("rendezvous: write %s frame: %w", f.Type, err)
	}
	return nil
}

// readLoop routes server frames to the Dispatcher until the connection
// drops, then reports Lost exactly once.
func (c *Client) readLoop(conn *websocket.Conn, d Dispatcher) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithFields(logrus.Fields{
					"package": "rendezvous",
				}).WithError(err).Warn("rendezvous connection dropped")
			}
			d.Lost()
			return
		}

		switch f.Type {
		case "welcome":
			if c.onWelcome != nil {
				c.onWelcome(f.Welcome)
			}
		case "allocated":
			if c.onAllocated != nil {
				c.onAllocated(f.Nameplate)
			}
		case "claimed":
			d.GotMailbox(f.Mailbox)
		case "message":
			body, err := hex.DecodeString(f.Body)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"package": "rendezvous",
					"phase":   f.Phase,
				}).WithError(err).Warn("dropping message frame with malformed body")
				continue
			}
			d.RxMessage(proto.Side(f.Side), proto.Phase(f.Phase), body)
		case "closed":
			d.RxClosed()
		case "ack", "released":
			// Flow-control acknowledgements carry no session state.
		default:
			logrus.WithFields(logrus.Fields{
				"package": "rendezvous",
				"type":    f.Type,
			}).Debug("ignoring unhandled rendezvous frame")
		}
	}
}
