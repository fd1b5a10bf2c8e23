// Package access is the hospital-facing lifecycle manager: it opens access
// requests against the ledger, reports their state, and gates record
// retrieval on guardian quorum.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edav/edav/internal/ledger"
	"github.com/edav/edav/internal/platform/seal"
	"github.com/edav/edav/internal/qr"
	"github.com/edav/edav/internal/recordstore"
)

var (
	// ErrNotYetApproved is returned for retrieval attempts before quorum.
	// Callers are expected to keep polling status.
	ErrNotYetApproved = errors.New("access not yet approved by guardians")

	// ErrPatientMismatch is returned when the download request names a
	// patient other than the one the access request was opened for.
	ErrPatientMismatch = errors.New("request does not belong to this patient")
)

// ValidationError marks input failures the caller can fix; handlers map it
// to a 400.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

type Service struct {
	ledger ledger.AccessLedger
	store  recordstore.Store
	sealer *seal.Sealer
	now    func() time.Time
}

// NewService wires the lifecycle manager. sealer may be nil when
// RECORD_MASTER_KEY is unset; downloads then fail with a configuration error.
func NewService(l ledger.AccessLedger, store recordstore.Store, sealer *seal.Sealer) *Service {
	return &Service{ledger: l, store: store, sealer: sealer, now: time.Now}
}

// SetClock overrides the service clock for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// RequestAccess opens a pending request for a registered patient. The
// hospital id is recorded for audit but not vetted.
func (s *Service) RequestAccess(ctx context.Context, patientAddress, hospitalID string) (*ledger.AccessRequest, error) {
	if patientAddress == "" {
		return nil, ValidationError("patientAddress is required")
	}
	if hospitalID == "" {
		return nil, ValidationError("hospitalId is required")
	}
	return s.ledger.CreateRequest(ctx, patientAddress, hospitalID)
}

// Status returns a point-in-time snapshot of a request. A pending request is
// not an error; callers read executed and the approval count and decide.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*ledger.AccessRequest, error) {
	return s.ledger.GetRequest(ctx, id)
}

// Download returns the decrypted record bound to an executed request. The
// executed flag is re-read from the ledger on every call; nothing touches the
// record store until that check passes. Retrieval is non-consuming, so
// repeated calls against an executed request keep succeeding.
func (s *Service) Download(ctx context.Context, id uuid.UUID, patientID string) ([]byte, string, error) {
	req, err := s.ledger.GetRequest(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if patientID != "" && req.Patient != patientID {
		return nil, "", ErrPatientMismatch
	}

	if !req.Executed {
		switch req.State(s.now()) {
		case ledger.StateDenied:
			return nil, "", ledger.ErrRequestClosed
		case ledger.StateExpired:
			return nil, "", ledger.ErrRequestExpired
		default:
			return nil, "", ErrNotYetApproved
		}
	}

	if s.sealer == nil {
		return nil, "", seal.ErrNotConfigured
	}

	env, err := s.store.Get(ctx, req.RecordCID)
	if err != nil {
		return nil, "", fmt.Errorf("fetch record %s: %w", req.RecordCID, err)
	}
	plaintext, err := s.sealer.OpenRecord(env)
	if err != nil {
		return nil, "", fmt.Errorf("open record %s: %w", req.RecordCID, err)
	}
	return plaintext, req.RecordCID, nil
}

// ParseQR validates scanned text as an emergency payload.
func (s *Service) ParseQR(raw string) (*qr.Payload, error) {
	return qr.Parse(raw)
}

// ListRequests returns a patient's requests, newest first.
func (s *Service) ListRequests(ctx context.Context, patientAddress string, limit, offset int) ([]*ledger.AccessRequest, int, error) {
	if patientAddress == "" {
		return nil, 0, ValidationError("patient_address is required")
	}
	return s.ledger.ListRequestsByPatient(ctx, patientAddress, limit, offset)
}
