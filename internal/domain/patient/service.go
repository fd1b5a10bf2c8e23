// Package patient is the patient-facing surface: wallet generation,
// registration on the access ledger, sealed record upload, and emergency QR
// generation.
package patient

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/edav/edav/internal/ledger"
	"github.com/edav/edav/internal/platform/seal"
	"github.com/edav/edav/internal/qr"
	"github.com/edav/edav/internal/recordstore"
)

// MaxRecordSize bounds uploaded record files.
const MaxRecordSize = 25 << 20 // 25 MiB

// ValidationError marks input failures the caller can fix; handlers map it
// to a 400.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

type Service struct {
	ledger ledger.AccessLedger
	store  recordstore.Store
	sealer *seal.Sealer
}

func NewService(l ledger.AccessLedger, store recordstore.Store, sealer *seal.Sealer) *Service {
	return &Service{ledger: l, store: store, sealer: sealer}
}

// GenerateWallet creates a fresh ed25519 keypair. The address is the first
// 20 bytes of the public key's sha256, hex with a 0x prefix; the private key
// is the hex-encoded seed. Nothing is persisted.
func (s *Service) GenerateWallet() (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	sum := sha256.Sum256(pub)
	return &Wallet{
		Address:    "0x" + hex.EncodeToString(sum[:20]),
		PrivateKey: hex.EncodeToString(priv.Seed()),
	}, nil
}

// Register writes (or replaces) the patient's registration on the ledger and
// returns the transaction hash.
func (s *Service) Register(ctx context.Context, patientAddress, ipfsHash string, guardians []string) (string, error) {
	if patientAddress == "" {
		return "", ValidationError("patientAddress is required")
	}
	if ipfsHash == "" {
		return "", ValidationError("ipfsHash is required")
	}
	return s.ledger.RegisterPatient(ctx, &ledger.Patient{
		Address:   patientAddress,
		RecordCID: ipfsHash,
		Guardians: guardians,
	})
}

// UploadRecord seals the plaintext and writes the envelope to the record
// store. The returned hash is the envelope's content address; plaintext never
// reaches storage.
func (s *Service) UploadRecord(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ValidationError("file is required")
	}
	if len(data) > MaxRecordSize {
		return "", ValidationError(fmt.Sprintf("file exceeds %d byte limit", MaxRecordSize))
	}
	if s.sealer == nil {
		return "", seal.ErrNotConfigured
	}

	env, err := s.sealer.SealRecord(data)
	if err != nil {
		return "", fmt.Errorf("seal record: %w", err)
	}
	cid, err := s.store.Put(ctx, env)
	if err != nil {
		return "", fmt.Errorf("store record: %w", err)
	}
	return cid, nil
}

// GenerateQR builds the emergency payload string for a patient's record.
func (s *Service) GenerateQR(patientAddress, ipfsHash string) (string, error) {
	if patientAddress == "" {
		return "", ValidationError("patientAddress is required")
	}
	if ipfsHash == "" {
		return "", ValidationError("ipfsHash is required")
	}
	return qr.Encode(patientAddress, ipfsHash)
}

// GetPatient returns a registration from the ledger.
func (s *Service) GetPatient(ctx context.Context, address string) (*ledger.Patient, error) {
	if address == "" {
		return nil, ValidationError("address is required")
	}
	return s.ledger.GetPatient(ctx, address)
}
