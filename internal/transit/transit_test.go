package transit

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slipwire/slipwire/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptSenderHandshake plays the sender side: consume the receiver's
// announcement, then confirm with the sender string and "go".
func scriptSenderHandshake(t *testing.T, conn net.Conn, key []byte) {
	t.Helper()
	receiverMsg := fmt.Sprintf("transit receiver %s ready\n\n",
		hex.EncodeToString(deriveTransitSubkey(key, "transit_receiver")))
	got := make([]byte, len(receiverMsg))
	_, err := io.ReadFull(conn, got)
	require.NoError(t, err)
	require.Equal(t, receiverMsg, string(got))

	senderMsg := fmt.Sprintf("transit sender %s ready\n\ngo\n",
		hex.EncodeToString(deriveTransitSubkey(key, "transit_sender")))
	_, err = io.WriteString(conn, senderMsg)
	require.NoError(t, err)
}

func TestReceiverHandshake(t *testing.T) {
	key := testKey()
	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		scriptSenderHandshake(t, senderConn, key)
	}()

	require.NoError(t, receiverHandshake(receiverConn, key))
	<-done
}

func TestReceiverHandshakeWrongKey(t *testing.T) {
	key := testKey()
	otherKey := deriveTransitSubkey(key, "some other key")
	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	go func() {
		// Sender derived its strings from a different transit key.
		receiverMsg := fmt.Sprintf("transit receiver %s ready\n\n",
			hex.EncodeToString(deriveTransitSubkey(key, "transit_receiver")))
		io.ReadFull(senderConn, make([]byte, len(receiverMsg)))
		fmt.Fprintf(senderConn, "transit sender %s ready\n\ngo\n",
			hex.EncodeToString(deriveTransitSubkey(otherKey, "transit_sender")))
	}()

	require.ErrorContains(t, receiverHandshake(receiverConn, key), "mismatch")
}

func TestRelayHandshake(t *testing.T) {
	key := testKey()
	relayConn, ourConn := net.Pipe()
	defer relayConn.Close()
	defer ourConn.Close()

	go func() {
		request := fmt.Sprintf("please relay %s\n",
			hex.EncodeToString(deriveTransitSubkey(key, "transit_relay_token")))
		got := make([]byte, len(request))
		if _, err := io.ReadFull(relayConn, got); err != nil {
			return
		}
		if string(got) == request {
			io.WriteString(relayConn, "ok\n")
		} else {
			io.WriteString(relayConn, "no\n")
		}
	}()

	require.NoError(t, relayHandshake(ourConn, key))
}

func TestRelayHandshakeRefused(t *testing.T) {
	key := testKey()
	relayConn, ourConn := net.Pipe()
	defer relayConn.Close()
	defer ourConn.Close()

	go func() {
		io.Copy(io.Discard, relayConn)
	}()
	go func() {
		io.WriteString(relayConn, "no\n")
	}()

	require.ErrorContains(t, relayHandshake(ourConn, key), "relay refused")
}

func TestConnectDialsDirectHint(t *testing.T) {
	key := testKey()

	// Fake sender listening where the direct hint points.
	senderListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer senderListener.Close()

	senderReady := make(chan net.Conn, 1)
	go func() {
		conn, err := senderListener.Accept()
		if err != nil {
			return
		}
		scriptSenderHandshake(t, conn, key)
		senderReady <- conn
	}()

	tr, err := New(key, Options{}, testLogger())
	require.NoError(t, err)

	host, portStr, err := net.SplitHostPort(senderListener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	tr.AddPeerDirectHints([]protocol.Hint{
		{Type: protocol.HintDirectTCP, Hostname: host, Port: port},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pipe, err := tr.Connect(ctx)
	require.NoError(t, err)
	defer pipe.Close()
	require.Contains(t, pipe.Describe(), "->tcp:")

	// The pipe carries records end to end.
	senderConn := <-senderReady
	defer senderConn.Close()
	sender := newTestSender(senderConn, key)
	go sender.sendRecord(t, []byte("payload"))
	rec, err := pipe.ReceiveRecord()
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), rec)
}

func TestConnectAcceptsInbound(t *testing.T) {
	key := testKey()
	tr, err := New(key, Options{}, testLogger())
	require.NoError(t, err)

	// No peer hints at all: only the inbound path can win.
	go func() {
		conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(tr.ListenerPort())))
		if err != nil {
			return
		}
		scriptSenderHandshake(t, conn, key)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pipe, err := tr.Connect(ctx)
	require.NoError(t, err)
	defer pipe.Close()
	require.Contains(t, pipe.Describe(), "<-tcp:")
}

func TestConnectHonorsContext(t *testing.T) {
	key := testKey()
	tr, err := New(key, Options{}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tr.Connect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"), Options{}, testLogger())
	require.ErrorContains(t, err, "32 bytes")
}

func TestAddPeerDirectHintsFiltersTypes(t *testing.T) {
	key := testKey()
	tr, err := New(key, Options{}, testLogger())
	require.NoError(t, err)
	defer tr.listener.Close()

	tr.AddPeerDirectHints([]protocol.Hint{
		{Type: protocol.HintDirectTCP, Hostname: "10.0.0.1", Port: 4001},
		{Type: "direct-udt-v7", Hostname: "10.0.0.2", Port: 4002},
	})
	require.Len(t, tr.peerDirect, 1)
	require.Equal(t, "10.0.0.1", tr.peerDirect[0].Hostname)
}

func TestOwnRelayHints(t *testing.T) {
	key := testKey()

	tests := []struct {
		name   string
		helper string
		want   int
	}{
		{"configured", "tcp:relay.example.com:4001", 1},
		{"empty", "", 0},
		{"malformed", "relay.example.com:4001", 0},
		{"bad port", "tcp:relay.example.com:http", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := New(key, Options{TransitHelper: tc.helper}, testLogger())
			require.NoError(t, err)
			defer tr.listener.Close()

			hints := tr.OwnRelayHints()
			require.Len(t, hints, tc.want)
			if tc.want == 1 {
				require.Equal(t, protocol.HintRelay, hints[0].Type)
				require.Equal(t, "relay.example.com", hints[0].Hints[0].Hostname)
				require.Equal(t, 4001, hints[0].Hints[0].Port)
			}
		})
	}
}

func TestDeriveTransitSubkeyPurposes(t *testing.T) {
	key := testKey()
	a := deriveTransitSubkey(key, "transit_receiver")
	b := deriveTransitSubkey(key, "transit_sender")
	require.Len(t, a, KeyLength)
	require.NotEqual(t, a, b)
	require.Equal(t, a, deriveTransitSubkey(key, "transit_receiver"))
	require.False(t, bytes.Equal(a, key))
}
