// Package app drives one receive session: code entry, key confirmation,
// the negotiation loop over the wormhole channel, and for bulk offers the
// transit connection and safe materialization of the received data.
package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	ansi "github.com/k0kubun/go-ansi"

	"github.com/slipwire/slipwire/internal/wormhole"
	"github.com/slipwire/slipwire/pkg/protocol"
)

// transitKeyLength matches the key size the transit layer expects.
const transitKeyLength = 32

// Channel is the authenticated low-bandwidth side of the session.
// *wormhole.Channel satisfies it; tests script it.
type Channel interface {
	SetCode(ctx context.Context, code string) error
	InputCode(ctx context.Context) error
	Verify(ctx context.Context) ([]byte, error)
	DeriveKey(purpose string, length int) []byte
	Send(ctx context.Context, data []byte) error
	Get(ctx context.Context) ([]byte, error)
	Close() error
}

// Transit accumulates connection hints and produces the bulk channel.
type Transit interface {
	AddPeerDirectHints(hints []protocol.Hint)
	AddPeerRelayHints(hints []protocol.RelayHint)
	OwnDirectHints(ctx context.Context) ([]protocol.Hint, error)
	OwnRelayHints() []protocol.RelayHint
	Connect(ctx context.Context) (RecordPipe, error)
}

// RecordPipe is the connected bulk channel.
type RecordPipe interface {
	SendRecord(data []byte) error
	WriteToFile(dst io.Writer, expected int64, onProgress func(int64)) (int64, error)
	Describe() string
	Close() error
}

// TransitFactory builds the transit manager once the session key exists.
// The receive loop only derives the transit key after the sender announces
// its hints, so construction is deferred.
type TransitFactory func(key []byte) (Transit, error)

// Config is the per-session receive configuration.
type Config struct {
	// Code is the wormhole code, when given on the command line. Empty
	// means prompt interactively (unless Zeromode).
	Code string
	// Zeromode uses the reduced code both sides agreed on out of band.
	Zeromode bool
	// ShowVerifier prints the session verifier after key confirmation.
	ShowVerifier bool
	// AcceptFile skips the consent prompt for bulk offers.
	AcceptFile bool
	// OutputFile overrides the offered name.
	OutputFile string
	// Dir is the directory received data lands in.
	Dir string
	// HideProgress suppresses the transfer progress bar.
	HideProgress bool
}

// Receiver runs one receive session to completion.
type Receiver struct {
	cfg        Config
	channel    Channel
	newTransit TransitFactory
	logger     *slog.Logger

	stdout  io.Writer
	stderr  io.Writer
	confirm func(prompt string) (bool, error)

	transit Transit
	done    bool
}

// New builds a Receiver. Output goes to the process stdout/stderr; tests
// substitute the unexported writers and the confirm hook.
func New(cfg Config, channel Channel, newTransit TransitFactory, logger *slog.Logger) *Receiver {
	return &Receiver{
		cfg:        cfg,
		channel:    channel,
		newTransit: newTransit,
		logger:     logger,
		stdout:     os.Stdout,
		stderr:     ansi.NewAnsiStderr(),
		confirm:    huhConfirm,
	}
}

// Go runs the session. The channel is closed on every path; a close
// failure never masks the session outcome.
func (r *Receiver) Go(ctx context.Context) error {
	runErr := r.run(ctx)
	if err := r.channel.Close(); err != nil {
		r.logger.Debug("channel close failed", "error", err)
	}
	return runErr
}

func (r *Receiver) run(ctx context.Context) error {
	if err := r.handleCode(ctx); err != nil {
		return err
	}

	verifier, err := r.channel.Verify(ctx)
	if err != nil {
		return err
	}
	if r.cfg.ShowVerifier {
		fmt.Fprintf(r.stdout, "Verifier %s.\n", hex.EncodeToString(verifier))
	}

	for {
		data, err := r.channel.Get(ctx)
		if err != nil {
			if errors.Is(err, wormhole.ErrChannelClosed) {
				if r.done {
					return nil
				}
				return &TransferError{Reason: "unexpected close"}
			}
			return err
		}
		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			return err
		}
		if msg.Error != nil {
			return &TransferError{Reason: *msg.Error}
		}
		if msg.Transit != nil {
			if err := r.handleTransit(ctx, msg.Transit); err != nil {
				return err
			}
			continue
		}
		if msg.Offer != nil {
			if r.done {
				return &TransferError{Reason: "duplicate offer"}
			}
			if err := r.handleOffer(ctx, msg.Offer); err != nil {
				return err
			}
			r.done = true
			return nil
		}
		r.logger.Warn("unrecognized message", "body", string(data))
		return &TransferError{Reason: "expected offer, got none"}
	}
}

func (r *Receiver) handleCode(ctx context.Context) error {
	code := r.cfg.Code
	if r.cfg.Zeromode {
		code = wormhole.ZeroCode
	}
	if code != "" {
		return r.channel.SetCode(ctx, code)
	}
	return r.channel.InputCode(ctx)
}

// handleTransit builds the transit manager from the sender's hints and
// answers with our own. Only the first transit message counts; later ones
// are ignored.
func (r *Receiver) handleTransit(ctx context.Context, hints *protocol.TransitHints) error {
	if r.transit != nil {
		r.logger.Debug("ignoring additional transit message")
		return nil
	}

	key := r.channel.DeriveKey(wormhole.AppID+"/transit-key", transitKeyLength)
	tr, err := r.newTransit(key)
	if err != nil {
		return err
	}
	r.transit = tr

	tr.AddPeerDirectHints(hints.DirectConnectionHints)
	tr.AddPeerRelayHints(hints.RelayConnectionHints)

	direct, err := tr.OwnDirectHints(ctx)
	if err != nil {
		return err
	}
	return r.send(ctx, protocol.TransitMessage(protocol.TransitHints{
		DirectConnectionHints: direct,
		RelayConnectionHints:  tr.OwnRelayHints(),
	}))
}

func (r *Receiver) handleOffer(ctx context.Context, offer *protocol.Offer) error {
	switch {
	case offer.Message != nil:
		return r.handleText(ctx, *offer.Message)
	case offer.File != nil:
		return r.handleFile(ctx, offer.File)
	case offer.Directory != nil:
		return r.handleDirectory(ctx, offer.Directory)
	default:
		fmt.Fprintln(r.stdout, "I don't know what they're offering")
		return r.respondError(ctx, "unknown offer type")
	}
}

func (r *Receiver) handleText(ctx context.Context, message string) error {
	fmt.Fprintln(r.stdout, message)
	return r.send(ctx, protocol.MessageAck())
}

func (r *Receiver) handleFile(ctx context.Context, offer *protocol.FileOffer) error {
	dest, err := r.resolveDestination(ctx, "file", offer.Filename)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.stdout, "Receiving file (%d bytes) into: %s\n",
		offer.Filesize, filepath.Base(dest))
	if err := r.askPermission(ctx); err != nil {
		return err
	}

	tmpName := dest + ".tmp"
	tmp, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	renamed := false
	defer func() {
		if !renamed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := r.send(ctx, protocol.FileAck()); err != nil {
		return err
	}

	pipe, err := r.connectTransit(ctx)
	if err != nil {
		return err
	}
	if err := r.transferData(pipe, tmp, offer.Filesize); err != nil {
		pipe.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		pipe.Close()
		return fmt.Errorf("flush received file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		pipe.Close()
		return fmt.Errorf("close received file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		pipe.Close()
		return fmt.Errorf("move received file into place: %w", err)
	}
	renamed = true
	fmt.Fprintf(r.stdout, "Received file written to %s\n", filepath.Base(dest))

	return r.closeTransit(pipe)
}

func (r *Receiver) handleDirectory(ctx context.Context, offer *protocol.DirectoryOffer) error {
	if offer.Mode != protocol.DirectoryMode {
		fmt.Fprintf(r.stdout, "Error: unknown directory-transfer mode %q\n", offer.Mode)
		return r.respondError(ctx, "unknown mode")
	}

	dest, err := r.resolveDestination(ctx, "directory", offer.Dirname)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.stdout, "Receiving directory (%d bytes) into: %s/\n",
		offer.Zipsize, filepath.Base(dest))
	fmt.Fprintf(r.stdout, "%d files, %d bytes (uncompressed)\n",
		offer.Numfiles, offer.Numbytes)
	if err := r.askPermission(ctx); err != nil {
		return err
	}

	spool, err := os.CreateTemp("", "slipwire-dir-*.zip")
	if err != nil {
		return fmt.Errorf("create archive spool: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	if err := r.send(ctx, protocol.FileAck()); err != nil {
		return err
	}

	pipe, err := r.connectTransit(ctx)
	if err != nil {
		return err
	}
	if err := r.transferData(pipe, spool, offer.Zipsize); err != nil {
		pipe.Close()
		return err
	}

	fmt.Fprintln(r.stdout, "Unpacking zipfile..")
	if err := extractArchive(spool, offer.Zipsize, dest); err != nil {
		pipe.Close()
		return err
	}
	fmt.Fprintf(r.stdout, "Received files written to %s/\n", filepath.Base(dest))

	return r.closeTransit(pipe)
}

func (r *Receiver) connectTransit(ctx context.Context) (RecordPipe, error) {
	if r.transit == nil {
		return nil, &TransferError{Reason: "no transit message received before offer"}
	}
	pipe, err := r.transit.Connect(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(r.stdout, "Receiving (%s)..\n", pipe.Describe())
	return pipe, nil
}

// transferData drains the pipe into dst and enforces the offered size. A
// short stream means the connection dropped; a long one means the sender
// does not agree with its own offer.
func (r *Receiver) transferData(pipe RecordPipe, dst io.Writer, expected int64) error {
	bar := newTransferBar(r.stderr, expected, r.cfg.HideProgress)
	received, err := pipe.WriteToFile(dst, expected, func(n int64) {
		bar.Add64(n)
	})
	if err != nil {
		return err
	}
	bar.Finish()

	if received < expected {
		fmt.Fprintf(r.stdout, "\nConnection dropped before full file received\ngot %d bytes, wanted %d\n",
			received, expected)
		return &TransferError{Reason: "connection dropped before full file received"}
	}
	if received > expected {
		return &TransferError{Reason: "received more bytes than expected"}
	}
	return nil
}

// closeTransit acknowledges the completed transfer on the bulk channel so
// the sender knows it can report success, then tears the connection down.
func (r *Receiver) closeTransit(pipe RecordPipe) error {
	if err := pipe.SendRecord([]byte("ok\n")); err != nil {
		pipe.Close()
		return fmt.Errorf("send transfer ack: %w", err)
	}
	return pipe.Close()
}

func (r *Receiver) send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return r.channel.Send(ctx, data)
}

// respondError tells the peer why the transfer is being abandoned, then
// fails locally with the same reason. Notification is best effort.
func (r *Receiver) respondError(ctx context.Context, reason string) error {
	if err := r.send(ctx, protocol.ErrorMessage(reason)); err != nil {
		r.logger.Debug("failed to notify peer", "reason", reason, "error", err)
	}
	return &TransferError{Reason: reason}
}
