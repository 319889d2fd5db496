package transit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Time allowed for a single candidate to complete its handshake. This bounds
// the race, not the session.
const handshakeTimeout = 30 * time.Second

// deriveTransitSubkey expands the transit key for one handshake purpose.
func deriveTransitSubkey(key []byte, purpose string) []byte {
	kdf := hkdf.New(sha256.New, key, nil, []byte(purpose))
	out := make([]byte, KeyLength)
	if _, err := io.ReadFull(kdf, out); err != nil {
		panic(fmt.Sprintf("hkdf expand: %v", err))
	}
	return out
}

// receiverHandshake identifies this side as the receiver and verifies the
// peer is a sender holding the same transit key. The sender confirms the
// winning candidate with a trailing "go".
func receiverHandshake(conn net.Conn, key []byte) error {
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	ours := fmt.Sprintf("transit receiver %s ready\n\n",
		hex.EncodeToString(deriveTransitSubkey(key, "transit_receiver")))
	if _, err := io.WriteString(conn, ours); err != nil {
		return fmt.Errorf("send receiver handshake: %w", err)
	}

	expected := fmt.Sprintf("transit sender %s ready\n\ngo\n",
		hex.EncodeToString(deriveTransitSubkey(key, "transit_sender")))
	got := make([]byte, len(expected))
	if _, err := io.ReadFull(conn, got); err != nil {
		return fmt.Errorf("read sender handshake: %w", err)
	}
	if !bytes.Equal(got, []byte(expected)) {
		return fmt.Errorf("sender handshake mismatch")
	}
	return nil
}

// relayHandshake asks a relay server to splice us to the side holding the
// matching token.
func relayHandshake(conn net.Conn, key []byte) error {
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	token := hex.EncodeToString(deriveTransitSubkey(key, "transit_relay_token"))
	if _, err := fmt.Fprintf(conn, "please relay %s\n", token); err != nil {
		return fmt.Errorf("send relay request: %w", err)
	}

	got := make([]byte, len("ok\n"))
	if _, err := io.ReadFull(conn, got); err != nil {
		return fmt.Errorf("read relay response: %w", err)
	}
	if string(got) != "ok\n" {
		return fmt.Errorf("relay refused: %q", got)
	}
	return nil
}
