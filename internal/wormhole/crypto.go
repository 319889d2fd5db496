package wormhole

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	masterKeySize = 32
	nonceSize     = 24
)

var errBoxTooShort = errors.New("sealed payload too short")

// deriveKey expands the master key into a purpose-scoped subkey.
func deriveKey(master []byte, purpose string, length int) []byte {
	kdf := hkdf.New(sha256.New, master, nil, []byte(purpose))
	out := make([]byte, length)
	if _, err := io.ReadFull(kdf, out); err != nil {
		panic(fmt.Sprintf("hkdf expand: %v", err))
	}
	return out
}

// derivePhaseKey derives the per-message key for one side and phase. Hashing
// side and phase keeps their lengths from bleeding into each other.
func derivePhaseKey(master []byte, side, phase string) []byte {
	sideHash := sha256.Sum256([]byte(side))
	phaseHash := sha256.Sum256([]byte(phase))
	purpose := make([]byte, 0, len("wormhole:phase:")+2*sha256.Size)
	purpose = append(purpose, "wormhole:phase:"...)
	purpose = append(purpose, sideHash[:]...)
	purpose = append(purpose, phaseHash[:]...)
	return deriveKey(master, string(purpose), masterKeySize)
}

// seal encrypts plaintext with a fresh random nonce prepended to the box.
func seal(key, plaintext []byte) ([]byte, error) {
	if len(key) != masterKeySize {
		return nil, fmt.Errorf("seal: key must be %d bytes, got %d", masterKeySize, len(key))
	}
	var k [masterKeySize]byte
	copy(k[:], key)
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &k), nil
}

// open reverses seal. A failed authentication returns an error without
// revealing anything about the payload.
func open(key, box []byte) ([]byte, error) {
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, errBoxTooShort
	}
	var k [masterKeySize]byte
	copy(k[:], key)
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plaintext, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &k)
	if !ok {
		return nil, errors.New("message authentication failed")
	}
	return plaintext, nil
}

// keyExchange holds this side's ephemeral X25519 key pair.
type keyExchange struct {
	priv [32]byte
	pub  []byte
}

func newKeyExchange() (*keyExchange, error) {
	kx := &keyExchange{}
	if _, err := rand.Read(kx.priv[:]); err != nil {
		return nil, fmt.Errorf("generate exchange key: %w", err)
	}
	pub, err := curve25519.X25519(kx.priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive exchange public key: %w", err)
	}
	kx.pub = pub
	return kx, nil
}

func (kx *keyExchange) public() []byte {
	return kx.pub
}

// master combines the X25519 shared secret with the app id and the
// human-readable code. Both sides derive the same key only when they agree
// on the code.
func (kx *keyExchange) master(peerPub []byte, appID, code string) ([]byte, error) {
	shared, err := curve25519.X25519(kx.priv[:], peerPub)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}
	salt := sha256.Sum256([]byte(appID + "|" + code))
	kdf := hkdf.New(sha256.New, shared, salt[:], []byte("slipwire master key"))
	key := make([]byte, masterKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	return key, nil
}
