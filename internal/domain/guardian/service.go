// Package guardian is the approval surface: registered guardians approve or
// deny pending emergency access requests.
package guardian

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edav/edav/internal/ledger"
)

// ValidationError marks input failures the caller can fix; handlers map it
// to a 400.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

type Service struct {
	ledger ledger.AccessLedger
	now    func() time.Time
}

func NewService(l ledger.AccessLedger) *Service {
	return &Service{ledger: l, now: time.Now}
}

// SetClock overrides the service clock for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Approve records a guardian approval and returns the post-transition
// snapshot. Re-approving is a no-op; approving an executed request just
// returns it.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, guardian string) (*ledger.AccessRequest, error) {
	if guardian == "" {
		return nil, ValidationError("guardianAddress is required")
	}
	return s.ledger.Approve(ctx, id, guardian)
}

// Deny records a guardian denial.
func (s *Service) Deny(ctx context.Context, id uuid.UUID, guardian string) (*ledger.AccessRequest, error) {
	if guardian == "" {
		return nil, ValidationError("guardianAddress is required")
	}
	return s.ledger.Deny(ctx, id, guardian)
}

// Pending returns a patient's requests still awaiting votes, newest first.
func (s *Service) Pending(ctx context.Context, patientAddress string, limit, offset int) ([]*ledger.AccessRequest, error) {
	if patientAddress == "" {
		return nil, ValidationError("patient_address is required")
	}
	reqs, _, err := s.ledger.ListRequestsByPatient(ctx, patientAddress, limit, offset)
	if err != nil {
		return nil, err
	}

	now := s.now()
	pending := make([]*ledger.AccessRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.State(now) == ledger.StatePending {
			pending = append(pending, r)
		}
	}
	return pending, nil
}
