// Package seal implements envelope encryption for stored medical records.
// Every record is encrypted under its own random data key (AES-256-GCM); the
// data key is wrapped under the server master key and escrowed inside the
// stored envelope. Unwrapping happens only behind the retrieval gate, so a
// blob leaked from the record store is useless without the master key.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length for both master and data keys.
const KeySize = 32

var (
	// ErrNotConfigured is returned when sealing is attempted without a
	// master key having been configured.
	ErrNotConfigured = errors.New("record master key not configured")

	// ErrInvalidEnvelope is returned for data that is not a sealed record.
	ErrInvalidEnvelope = errors.New("invalid sealed record envelope")
)

// envelope layout: magic (4) | version (1) | wrapped key length (2, BE) |
// wrapped key | ciphertext
var envelopeMagic = []byte("EDAV")

const envelopeVersion = 0x01

// Sealer seals and opens record envelopes under a fixed master key.
type Sealer struct {
	kek cipher.AEAD
}

// New creates a Sealer from a 32-byte master key.
func New(masterKey []byte) (*Sealer, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("seal: master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	aead, err := newAEAD(masterKey)
	if err != nil {
		return nil, err
	}
	return &Sealer{kek: aead}, nil
}

// SealRecord encrypts plaintext under a fresh data key and returns the
// envelope: the wrapped data key followed by the ciphertext.
func (s *Sealer) SealRecord(plaintext []byte) ([]byte, error) {
	dek := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("seal: generate data key: %w", err)
	}

	recordAEAD, err := newAEAD(dek)
	if err != nil {
		return nil, err
	}

	ciphertext, err := aeadSeal(recordAEAD, plaintext)
	if err != nil {
		return nil, err
	}
	wrapped, err := aeadSeal(s.kek, dek)
	if err != nil {
		return nil, err
	}
	if len(wrapped) > 0xFFFF {
		return nil, fmt.Errorf("seal: wrapped key too large")
	}

	env := make([]byte, 0, len(envelopeMagic)+3+len(wrapped)+len(ciphertext))
	env = append(env, envelopeMagic...)
	env = append(env, envelopeVersion)
	env = binary.BigEndian.AppendUint16(env, uint16(len(wrapped)))
	env = append(env, wrapped...)
	env = append(env, ciphertext...)
	return env, nil
}

// OpenRecord unwraps the escrowed data key and decrypts the record.
func (s *Sealer) OpenRecord(env []byte) ([]byte, error) {
	header := len(envelopeMagic) + 3
	if len(env) < header {
		return nil, ErrInvalidEnvelope
	}
	if string(env[:len(envelopeMagic)]) != string(envelopeMagic) {
		return nil, ErrInvalidEnvelope
	}
	if env[len(envelopeMagic)] != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, env[len(envelopeMagic)])
	}

	wrappedLen := int(binary.BigEndian.Uint16(env[len(envelopeMagic)+1 : header]))
	if len(env) < header+wrappedLen {
		return nil, ErrInvalidEnvelope
	}
	wrapped := env[header : header+wrappedLen]
	ciphertext := env[header+wrappedLen:]

	dek, err := aeadOpen(s.kek, wrapped)
	if err != nil {
		return nil, fmt.Errorf("seal: unwrap data key: %w", err)
	}
	recordAEAD, err := newAEAD(dek)
	if err != nil {
		return nil, err
	}
	plaintext, err := aeadOpen(recordAEAD, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("seal: decrypt record: %w", err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: create GCM: %w", err)
	}
	return aead, nil
}

// aeadSeal returns nonce + ciphertext so the blob is self-contained.
func aeadSeal(aead cipher.AEAD, data []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("seal: generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, data, nil), nil
}

func aeadOpen(aead cipher.AEAD, data []byte) ([]byte, error) {
	nonceSize := aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	return aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}
