package transit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	recordNonceSize = 24
	// Largest sealed record we accept. Senders chunk well below this.
	maxRecordSize = 1 << 26
)

// RecordPipe is the connected bulk channel. Records are length-framed and
// sealed with directional keys; nonces are sequential per direction and
// verified on receive.
type RecordPipe struct {
	conn net.Conn
	desc string

	sendKey   [32]byte
	recvKey   [32]byte
	sendNonce uint64
	recvNonce uint64
}

func newRecordPipe(conn net.Conn, key []byte, desc string) *RecordPipe {
	p := &RecordPipe{conn: conn, desc: desc}
	copy(p.sendKey[:], deriveTransitSubkey(key, "transit_record_receiver_key"))
	copy(p.recvKey[:], deriveTransitSubkey(key, "transit_record_sender_key"))
	return p
}

// Describe names the connection for user-facing output.
func (p *RecordPipe) Describe() string {
	return p.desc
}

// SendRecord seals and frames one record.
func (p *RecordPipe) SendRecord(data []byte) error {
	var nonce [recordNonceSize]byte
	binary.BigEndian.PutUint64(nonce[recordNonceSize-8:], p.sendNonce)

	sealed := secretbox.Seal(nonce[:], data, &nonce, &p.sendKey)

	var frame [4]byte
	binary.BigEndian.PutUint32(frame[:], uint32(len(sealed)))
	if _, err := p.conn.Write(frame[:]); err != nil {
		return fmt.Errorf("write record frame: %w", err)
	}
	if _, err := p.conn.Write(sealed); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	p.sendNonce++
	return nil
}

// ReceiveRecord reads and opens the next record. io.EOF is returned as-is
// when the peer closes cleanly between records.
func (p *RecordPipe) ReceiveRecord() ([]byte, error) {
	var frame [4]byte
	if _, err := io.ReadFull(p.conn, frame[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(frame[:])
	if size < recordNonceSize+secretbox.Overhead || size > maxRecordSize {
		return nil, fmt.Errorf("record size %d out of range", size)
	}

	sealed := make([]byte, size)
	if _, err := io.ReadFull(p.conn, sealed); err != nil {
		return nil, err
	}

	var nonce [recordNonceSize]byte
	copy(nonce[:], sealed[:recordNonceSize])
	if got := binary.BigEndian.Uint64(nonce[recordNonceSize-8:]); got != p.recvNonce {
		return nil, fmt.Errorf("record nonce %d out of sequence, want %d", got, p.recvNonce)
	}

	plain, ok := secretbox.Open(nil, sealed[recordNonceSize:], &nonce, &p.recvKey)
	if !ok {
		return nil, errors.New("record authentication failed")
	}
	p.recvNonce++
	return plain, nil
}

// WriteToFile drains payload records into dst until expected bytes have
// arrived, reporting each increment through onProgress. A connection that
// ends early returns the byte count without error; the caller does the
// accounting. Cryptographic failures are returned as errors.
func (p *RecordPipe) WriteToFile(dst io.Writer, expected int64, onProgress func(int64)) (int64, error) {
	var total int64
	for total < expected {
		rec, err := p.ReceiveRecord()
		if err != nil {
			if isConnectionEnd(err) {
				return total, nil
			}
			return total, err
		}
		if _, err := dst.Write(rec); err != nil {
			return total, fmt.Errorf("write payload: %w", err)
		}
		total += int64(len(rec))
		if onProgress != nil {
			onProgress(int64(len(rec)))
		}
	}
	return total, nil
}

// Close tears the bulk connection down.
func (p *RecordPipe) Close() error {
	return p.conn.Close()
}

func isConnectionEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
