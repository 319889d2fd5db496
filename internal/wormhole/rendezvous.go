package wormhole

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrChannelClosed is returned by receive operations after the peer or the
// rendezvous server has torn the mailbox down.
var ErrChannelClosed = errors.New("wormhole channel closed")

var dialer = websocket.Dialer{
	HandshakeTimeout: 10 * time.Second,
}

// serverMsg is the union of every rendezvous server frame we care about.
// Unknown types are ignored by the read loop.
type serverMsg struct {
	Type      string `json:"type"`
	Mailbox   string `json:"mailbox,omitempty"`
	Nameplate string `json:"nameplate,omitempty"`
	Side      string `json:"side,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Body      string `json:"body,omitempty"`
	Error     string `json:"error,omitempty"`
}

type clientMsg struct {
	Type      string `json:"type"`
	AppID     string `json:"appid,omitempty"`
	Side      string `json:"side,omitempty"`
	Nameplate string `json:"nameplate,omitempty"`
	Mailbox   string `json:"mailbox,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Body      string `json:"body,omitempty"`
	Mood      string `json:"mood,omitempty"`
}

// mailboxMessage is one phase payload delivered through the mailbox,
// including our own echoed messages.
type mailboxMessage struct {
	Side  string
	Phase string
	Body  []byte
}

// rendezvousClient speaks the mailbox protocol over a websocket. One control
// request (claim) is outstanding at a time, which is all the receive flow
// needs.
type rendezvousClient struct {
	conn   *websocket.Conn
	logger *slog.Logger

	incoming chan mailboxMessage
	control  chan serverMsg
	done     chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
}

// dialRendezvous connects, binds the app id and side, and starts the read
// loop.
func dialRendezvous(ctx context.Context, relayURL, appID, side string, logger *slog.Logger) (*rendezvousClient, error) {
	conn, _, err := dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial rendezvous server: %w", err)
	}

	rc := &rendezvousClient{
		conn:     conn,
		logger:   logger,
		incoming: make(chan mailboxMessage, 16),
		control:  make(chan serverMsg, 1),
		done:     make(chan struct{}),
	}
	go rc.readLoop()

	if err := rc.write(clientMsg{Type: "bind", AppID: appID, Side: side}); err != nil {
		rc.shutdown()
		return nil, err
	}
	return rc, nil
}

func (rc *rendezvousClient) readLoop() {
	defer close(rc.done)
	for {
		var msg serverMsg
		if err := rc.conn.ReadJSON(&msg); err != nil {
			rc.logger.Debug("rendezvous read loop ended", "error", err)
			return
		}
		switch msg.Type {
		case "message":
			body, err := hex.DecodeString(msg.Body)
			if err != nil {
				rc.logger.Warn("mailbox message with non-hex body", "phase", msg.Phase)
				continue
			}
			select {
			case rc.incoming <- mailboxMessage{Side: msg.Side, Phase: msg.Phase, Body: body}:
			default:
				rc.logger.Warn("mailbox message dropped, receiver not draining", "phase", msg.Phase)
			}
		case "claimed", "error":
			select {
			case rc.control <- msg:
			default:
			}
		case "welcome", "ack", "released", "closed":
			// Flow control only.
		default:
			rc.logger.Debug("unrecognized rendezvous frame", "type", msg.Type)
		}
	}
}

func (rc *rendezvousClient) write(msg clientMsg) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	if err := rc.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s to rendezvous server: %w", msg.Type, err)
	}
	return nil
}

// claim claims a nameplate and returns the mailbox id assigned to it.
func (rc *rendezvousClient) claim(ctx context.Context, nameplate string) (string, error) {
	if err := rc.write(clientMsg{Type: "claim", Nameplate: nameplate}); err != nil {
		return "", err
	}
	select {
	case msg := <-rc.control:
		if msg.Type == "error" {
			return "", fmt.Errorf("claim nameplate %s: %s", nameplate, msg.Error)
		}
		return msg.Mailbox, nil
	case <-rc.done:
		return "", ErrChannelClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (rc *rendezvousClient) open(mailbox string) error {
	return rc.write(clientMsg{Type: "open", Mailbox: mailbox})
}

// add publishes one phase payload into the mailbox.
func (rc *rendezvousClient) add(phase string, body []byte) error {
	return rc.write(clientMsg{Type: "add", Phase: phase, Body: hex.EncodeToString(body)})
}

// next blocks for the next mailbox message, our own echoes included.
func (rc *rendezvousClient) next(ctx context.Context) (mailboxMessage, error) {
	select {
	case msg := <-rc.incoming:
		return msg, nil
	case <-rc.done:
		// Drain anything that raced with the close.
		select {
		case msg := <-rc.incoming:
			return msg, nil
		default:
		}
		return mailboxMessage{}, ErrChannelClosed
	case <-ctx.Done():
		return mailboxMessage{}, ctx.Err()
	}
}

// close releases the mailbox with a mood and tears the websocket down.
func (rc *rendezvousClient) close(mailbox, mood string) error {
	var err error
	if mailbox != "" {
		err = rc.write(clientMsg{Type: "close", Mailbox: mailbox, Mood: mood})
	}
	rc.shutdown()
	return err
}

func (rc *rendezvousClient) shutdown() {
	rc.closeOnce.Do(func() {
		_ = rc.conn.Close()
	})
}
