// Package wormhole implements the authenticated low-bandwidth channel two
// peers bootstrap from a short one-time code. Messages travel through a
// rendezvous server mailbox; payload phases are sealed with per-phase keys
// derived from a master key both sides agree on via the code.
package wormhole

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
)

// AppID scopes nameplates and derived keys to this application.
const AppID = "slipwire.dev/slipwire/file-xfer"

// ZeroCode is the reduced code used when both sides agreed out of band to
// skip code entry.
const ZeroCode = "0-"

// ErrWrongCode reports that the peer's first sealed phase failed to
// authenticate, meaning the two sides typed different codes.
var ErrWrongCode = errors.New("key confirmation failed: codes do not match")

// pakeBody is the cleartext first phase carrying the key-exchange public
// key.
type pakeBody struct {
	PakeV1 string `json:"pake_v1"`
}

// versionBody is the first sealed phase; successfully opening it confirms
// the key.
type versionBody struct {
	AppVersions map[string]any `json:"app_versions"`
}

// Channel is one side of a wormhole conversation.
type Channel struct {
	relayURL string
	appID    string
	side     string
	logger   *slog.Logger

	rc      *rendezvousClient
	kx      *keyExchange
	code    string
	mailbox string
	master  []byte
	txPhase int
}

// NewChannel prepares a channel; no network traffic happens until a code is
// set.
func NewChannel(relayURL, appID string, logger *slog.Logger) (*Channel, error) {
	side, err := randomSide()
	if err != nil {
		return nil, err
	}
	kx, err := newKeyExchange()
	if err != nil {
		return nil, err
	}
	return &Channel{
		relayURL: relayURL,
		appID:    appID,
		side:     side,
		logger:   logger,
		kx:       kx,
	}, nil
}

// SetCode binds to the rendezvous server, claims the code's nameplate, opens
// the mailbox, and publishes this side's key-exchange phase.
func (c *Channel) SetCode(ctx context.Context, code string) error {
	if c.rc != nil {
		return errors.New("code already set")
	}
	nameplate, _, found := strings.Cut(code, "-")
	if !found || nameplate == "" {
		return fmt.Errorf("malformed code %q, want nameplate-words", code)
	}

	rc, err := dialRendezvous(ctx, c.relayURL, c.appID, c.side, c.logger)
	if err != nil {
		return err
	}
	mailbox, err := rc.claim(ctx, nameplate)
	if err != nil {
		rc.shutdown()
		return err
	}
	if err := rc.open(mailbox); err != nil {
		rc.shutdown()
		return err
	}

	body, err := json.Marshal(pakeBody{PakeV1: hex.EncodeToString(c.kx.public())})
	if err != nil {
		rc.shutdown()
		return fmt.Errorf("encode pake phase: %w", err)
	}
	if err := rc.add("pake", body); err != nil {
		rc.shutdown()
		return err
	}

	c.rc = rc
	c.code = code
	c.mailbox = mailbox
	c.logger.Debug("mailbox open", "nameplate", nameplate, "mailbox", mailbox)
	return nil
}

// InputCode prompts for a code interactively, then sets it.
func (c *Channel) InputCode(ctx context.Context) error {
	var code string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Enter receive wormhole code:").
			Value(&code).
			Validate(func(s string) error {
				if !strings.Contains(s, "-") {
					return errors.New("codes look like 4-purple-sausages")
				}
				return nil
			}),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return fmt.Errorf("read wormhole code: %w", err)
	}
	return c.SetCode(ctx, strings.TrimSpace(code))
}

// establishKey waits for the peer's key-exchange phase, derives the master
// key, and exchanges the sealed version phase that confirms both sides used
// the same code.
func (c *Channel) establishKey(ctx context.Context) error {
	if c.master != nil {
		return nil
	}
	if c.rc == nil {
		return errors.New("no code has been set")
	}

	var peerPub []byte
	for peerPub == nil {
		msg, err := c.rc.next(ctx)
		if err != nil {
			return err
		}
		if msg.Side == c.side || msg.Phase != "pake" {
			continue
		}
		var body pakeBody
		if err := json.Unmarshal(msg.Body, &body); err != nil {
			return fmt.Errorf("decode peer pake phase: %w", err)
		}
		peerPub, err = hex.DecodeString(body.PakeV1)
		if err != nil {
			return fmt.Errorf("decode peer exchange key: %w", err)
		}
	}

	master, err := c.kx.master(peerPub, c.appID, c.code)
	if err != nil {
		return err
	}
	c.master = master

	versions, err := json.Marshal(versionBody{AppVersions: map[string]any{}})
	if err != nil {
		return fmt.Errorf("encode version phase: %w", err)
	}
	sealed, err := seal(derivePhaseKey(master, c.side, "version"), versions)
	if err != nil {
		return err
	}
	if err := c.rc.add("version", sealed); err != nil {
		return err
	}

	for {
		msg, err := c.rc.next(ctx)
		if err != nil {
			return err
		}
		if msg.Side == c.side || msg.Phase != "version" {
			continue
		}
		if _, err := open(derivePhaseKey(master, msg.Side, "version"), msg.Body); err != nil {
			c.master = nil
			return ErrWrongCode
		}
		return nil
	}
}

// Verify completes key agreement and returns the session verifier both
// sides can compare out of band.
func (c *Channel) Verify(ctx context.Context) ([]byte, error) {
	if err := c.establishKey(ctx); err != nil {
		return nil, err
	}
	return deriveKey(c.master, c.appID+"/verifier", masterKeySize), nil
}

// DeriveKey expands the master key into a purpose-scoped subkey. Verify must
// have succeeded first.
func (c *Channel) DeriveKey(purpose string, length int) []byte {
	if c.master == nil {
		panic("wormhole: DeriveKey before key agreement")
	}
	return deriveKey(c.master, purpose, length)
}

// Send seals data under the next numbered phase for this side.
func (c *Channel) Send(ctx context.Context, data []byte) error {
	if err := c.establishKey(ctx); err != nil {
		return err
	}
	phase := strconv.Itoa(c.txPhase)
	sealed, err := seal(derivePhaseKey(c.master, c.side, phase), data)
	if err != nil {
		return err
	}
	if err := c.rc.add(phase, sealed); err != nil {
		return err
	}
	c.txPhase++
	return nil
}

// Get blocks for the next application message from the peer, in mailbox
// arrival order. Key-agreement phases and our own echoes are skipped.
// Returns ErrChannelClosed once the mailbox is gone.
func (c *Channel) Get(ctx context.Context) ([]byte, error) {
	if err := c.establishKey(ctx); err != nil {
		return nil, err
	}
	for {
		msg, err := c.rc.next(ctx)
		if err != nil {
			return nil, err
		}
		if msg.Side == c.side || msg.Phase == "pake" || msg.Phase == "version" {
			continue
		}
		plaintext, err := open(derivePhaseKey(c.master, msg.Side, msg.Phase), msg.Body)
		if err != nil {
			return nil, fmt.Errorf("open peer message phase %s: %w", msg.Phase, err)
		}
		return plaintext, nil
	}
}

// Close releases the mailbox. Safe to call whether or not a code was ever
// set.
func (c *Channel) Close() error {
	if c.rc == nil {
		return nil
	}
	return c.rc.close(c.mailbox, "happy")
}

func randomSide() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate side id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
