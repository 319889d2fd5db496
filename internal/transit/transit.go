// Package transit establishes the high-bandwidth bulk connection from the
// hint sets both sides exchange over the wormhole channel. Candidates (our
// listener, dials to every peer hint) race; the first connection to complete
// the transit handshake becomes the record pipe, the rest are closed.
package transit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/slipwire/slipwire/pkg/protocol"
)

// KeyLength is the size of the transit key derived from the wormhole
// channel.
const KeyLength = 32

// Options configures a Transit.
type Options struct {
	// TransitHelper is a relay designator of the form "tcp:host:port".
	// Empty disables relay hints.
	TransitHelper string
	// StunServers used to discover the public address for direct hints.
	// Defaults apply when empty.
	StunServers []string
}

// Transit owns the listener and the accumulated hint sets for one session.
type Transit struct {
	key    []byte
	opts   Options
	logger *slog.Logger

	listener net.Listener

	mu         sync.Mutex
	peerDirect []protocol.Hint
	peerRelay  []protocol.RelayHint
	connected  bool
}

// New opens the direct-connection listener and returns a Transit bound to
// the given key.
func New(key []byte, opts Options, logger *slog.Logger) (*Transit, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("transit key must be %d bytes, got %d", KeyLength, len(key))
	}
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("open transit listener: %w", err)
	}
	return &Transit{
		key:      key,
		opts:     opts,
		logger:   logger,
		listener: listener,
	}, nil
}

// AddPeerDirectHints registers the peer's direct endpoint candidates.
func (t *Transit) AddPeerDirectHints(hints []protocol.Hint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range hints {
		if h.Type != protocol.HintDirectTCP {
			t.logger.Debug("skipping unrecognized direct hint", "type", h.Type)
			continue
		}
		t.peerDirect = append(t.peerDirect, h)
	}
}

// AddPeerRelayHints registers the peer's relay candidates.
func (t *Transit) AddPeerRelayHints(hints []protocol.RelayHint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range hints {
		if h.Type != protocol.HintRelay {
			t.logger.Debug("skipping unrecognized relay hint", "type", h.Type)
			continue
		}
		t.peerRelay = append(t.peerRelay, h)
	}
}

// OwnRelayHints returns the relay candidates this side advertises.
func (t *Transit) OwnRelayHints() []protocol.RelayHint {
	if t.opts.TransitHelper == "" {
		return []protocol.RelayHint{}
	}
	host, portStr, err := splitHelper(t.opts.TransitHelper)
	if err != nil {
		t.logger.Warn("ignoring malformed transit helper", "helper", t.opts.TransitHelper, "error", err)
		return []protocol.RelayHint{}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.logger.Warn("ignoring transit helper with non-numeric port", "helper", t.opts.TransitHelper)
		return []protocol.RelayHint{}
	}
	return []protocol.RelayHint{{
		Type:  protocol.HintRelay,
		Hints: []protocol.Hint{{Type: protocol.HintDirectTCP, Hostname: host, Port: port}},
	}}
}

// candidate is one connection attempt in the race.
type candidate struct {
	hint  protocol.Hint
	relay bool
}

// Connect races the listener and dials to every registered peer hint, and
// returns the first record pipe whose handshake completes. It blocks until a
// candidate succeeds or ctx is done; stalls are the channels' problem, not
// this layer's.
func (t *Transit) Connect(ctx context.Context) (*RecordPipe, error) {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil, errors.New("transit already connected")
	}
	t.connected = true
	candidates := make([]candidate, 0, len(t.peerDirect)+len(t.peerRelay))
	for _, h := range t.peerDirect {
		candidates = append(candidates, candidate{hint: h})
	}
	for _, rh := range t.peerRelay {
		for _, h := range rh.Hints {
			candidates = append(candidates, candidate{hint: h, relay: true})
		}
	}
	t.mu.Unlock()

	raceCtx, cancel := context.WithCancel(ctx)

	winners := make(chan *RecordPipe, 1)
	go t.acceptLoop(raceCtx, winners)
	for _, c := range candidates {
		go t.dialCandidate(raceCtx, c, winners)
	}

	// Unblock the accept loop when the race ends; late losers close
	// themselves via offerWinner.
	go func() {
		<-raceCtx.Done()
		_ = t.listener.Close()
	}()

	select {
	case pipe := <-winners:
		cancel()
		return pipe, nil
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

func (t *Transit) acceptLoop(ctx context.Context, winners chan<- *RecordPipe) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		if err := receiverHandshake(conn, t.key); err != nil {
			t.logger.Debug("inbound transit handshake failed", "remote", conn.RemoteAddr(), "error", err)
			_ = conn.Close()
			continue
		}
		t.offerWinner(ctx, winners, newRecordPipe(conn, t.key, "<-tcp:"+conn.RemoteAddr().String()))
		return
	}
}

func (t *Transit) dialCandidate(ctx context.Context, c candidate, winners chan<- *RecordPipe) {
	addr := net.JoinHostPort(c.hint.Hostname, strconv.Itoa(c.hint.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.logger.Debug("transit dial failed", "addr", addr, "relay", c.relay, "error", err)
		return
	}
	if c.relay {
		if err := relayHandshake(conn, t.key); err != nil {
			t.logger.Debug("relay handshake failed", "addr", addr, "error", err)
			_ = conn.Close()
			return
		}
	}
	if err := receiverHandshake(conn, t.key); err != nil {
		t.logger.Debug("transit handshake failed", "addr", addr, "error", err)
		_ = conn.Close()
		return
	}
	kind := "->tcp:"
	if c.relay {
		kind = "->relay:"
	}
	t.offerWinner(ctx, winners, newRecordPipe(conn, t.key, kind+addr))
}

func (t *Transit) offerWinner(ctx context.Context, winners chan<- *RecordPipe, pipe *RecordPipe) {
	select {
	case <-ctx.Done():
		_ = pipe.Close()
		return
	default:
	}
	select {
	case winners <- pipe:
	default:
		_ = pipe.Close()
	}
}

func splitHelper(helper string) (host, port string, err error) {
	const prefix = "tcp:"
	if len(helper) <= len(prefix) || helper[:len(prefix)] != prefix {
		return "", "", fmt.Errorf("invalid transit helper %q", helper)
	}
	host, port, err = net.SplitHostPort(helper[len(prefix):])
	if err != nil {
		return "", "", fmt.Errorf("invalid transit helper %q: %w", helper, err)
	}
	return host, port, nil
}
