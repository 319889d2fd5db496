// Package protocol defines the peer-to-peer negotiation messages exchanged
// over the wormhole channel. Every message is a JSON document with exactly
// one recognized top-level key.
package protocol

import (
	"encoding/json"
	"fmt"
)

// DirectoryMode is the only recognized directory-transfer mode. Offers with
// any other mode are rejected before any I/O happens.
const DirectoryMode = "zipfile/deflated"

// Message is the top-level negotiation document. Exactly one field is
// non-nil in a well-formed message.
type Message struct {
	Transit *TransitHints `json:"transit,omitempty"`
	Offer   *Offer        `json:"offer,omitempty"`
	Answer  *Answer       `json:"answer,omitempty"`
	Error   *string       `json:"error,omitempty"`
}

// Offer describes a proposed transfer. Exactly one variant is set.
type Offer struct {
	Message   *string         `json:"message,omitempty"`
	File      *FileOffer      `json:"file,omitempty"`
	Directory *DirectoryOffer `json:"directory,omitempty"`
}

// FileOffer proposes a single-file transfer.
type FileOffer struct {
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
}

// DirectoryOffer proposes a directory transfer as a compressed archive.
type DirectoryOffer struct {
	Mode     string `json:"mode"`
	Dirname  string `json:"dirname"`
	Zipsize  int64  `json:"zipsize"`
	Numfiles int64  `json:"numfiles"`
	Numbytes int64  `json:"numbytes"`
}

// Answer acknowledges an offer. MessageAck for text, FileAck for bulk
// transfers; the value is always "ok".
type Answer struct {
	MessageAck string `json:"message_ack,omitempty"`
	FileAck    string `json:"file_ack,omitempty"`
}

// TransitHints carries the endpoint candidates one side offers for the bulk
// connection.
type TransitHints struct {
	DirectConnectionHints []Hint      `json:"direct_connection_hints"`
	RelayConnectionHints  []RelayHint `json:"relay_connection_hints"`
}

// Hint is a single direct endpoint candidate.
type Hint struct {
	Type     string  `json:"type"`
	Hostname string  `json:"hostname"`
	Port     int     `json:"port"`
	Priority float64 `json:"priority,omitempty"`
}

// RelayHint wraps the endpoints of one relay server.
type RelayHint struct {
	Type  string `json:"type"`
	Hints []Hint `json:"hints"`
}

// Hint type tags.
const (
	HintDirectTCP = "direct-tcp-v1"
	HintRelay     = "relay-v1"
)

// DecodeMessage parses one negotiation document.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode negotiation message: %w", err)
	}
	return m, nil
}

// EncodeMessage serializes one negotiation document.
func EncodeMessage(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode negotiation message: %w", err)
	}
	return data, nil
}

// TransitMessage builds a {"transit": ...} document.
func TransitMessage(hints TransitHints) Message {
	return Message{Transit: &hints}
}

// MessageAck builds the {"answer":{"message_ack":"ok"}} document.
func MessageAck() Message {
	return Message{Answer: &Answer{MessageAck: "ok"}}
}

// FileAck builds the {"answer":{"file_ack":"ok"}} document.
func FileAck() Message {
	return Message{Answer: &Answer{FileAck: "ok"}}
}

// ErrorMessage builds an {"error": reason} document.
func ErrorMessage(reason string) Message {
	return Message{Error: &reason}
}
