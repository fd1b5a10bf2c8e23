// Package ledger holds the durable state of every emergency access request
// and enforces the guardian approval state machine: a request starts pending,
// becomes executed once a quorum of the patient's guardians approve, and is
// closed by expiry or by enough denials to make quorum unreachable. Executed
// is monotone; the ledger is the only component allowed to set it.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotConfigured is returned by the unconfigured backend when no
	// ledger storage has been set up.
	ErrNotConfigured = errors.New("access ledger not configured")

	ErrPatientNotFound = errors.New("patient not registered")
	ErrRequestNotFound = errors.New("access request not found")

	// ErrInvalidRegistration wraps registration rule violations so callers
	// can tell a bad request from a ledger failure.
	ErrInvalidRegistration = errors.New("invalid registration")

	// ErrNotGuardian is returned when a vote comes from an address that is
	// not in the patient's guardian set.
	ErrNotGuardian = errors.New("address is not a guardian for this patient")

	// ErrRequestClosed is returned for votes that can no longer matter:
	// approvals on a denied request, denials on an executed one.
	ErrRequestClosed = errors.New("access request is closed")

	// ErrRequestExpired is returned for votes on a pending request past
	// its deadline.
	ErrRequestExpired = errors.New("access request has expired")
)

// Policy fixes the approval rules a ledger backend enforces.
type Policy struct {
	// Quorum is the number of guardian approvals required to execute a
	// request.
	Quorum int

	// RequestTTL bounds how long a request stays approvable. Zero means
	// requests never expire.
	RequestTTL time.Duration
}

// DefaultPolicy mirrors the deployed contract: two approvals, one day.
func DefaultPolicy() Policy {
	return Policy{Quorum: 2, RequestTTL: 24 * time.Hour}
}

func (p Policy) deadline(createdAt time.Time) time.Time {
	if p.RequestTTL <= 0 {
		// Far future stands in for "never"; keeps State() total.
		return createdAt.AddDate(100, 0, 0)
	}
	return createdAt.Add(p.RequestTTL)
}

// AccessLedger is the authoritative store of registrations and requests.
// Every method re-reads durable state; callers must not cache Executed.
type AccessLedger interface {
	// RegisterPatient records (or replaces) a patient's registration and
	// returns a transaction hash for the write.
	RegisterPatient(ctx context.Context, p *Patient) (string, error)

	// GetPatient returns a patient's registration.
	GetPatient(ctx context.Context, address string) (*Patient, error)

	// CreateRequest opens a pending request against a registered patient
	// and binds the patient's current record address to it.
	CreateRequest(ctx context.Context, patientAddress, hospitalID string) (*AccessRequest, error)

	// GetRequest returns a point-in-time snapshot of a request.
	GetRequest(ctx context.Context, id uuid.UUID) (*AccessRequest, error)

	// ListRequestsByPatient returns requests for a patient, newest first,
	// with the total count for pagination.
	ListRequestsByPatient(ctx context.Context, patientAddress string, limit, offset int) ([]*AccessRequest, int, error)

	// Approve records a guardian approval and returns the post-transition
	// snapshot. Approving an executed request, or re-approving, is a no-op.
	Approve(ctx context.Context, id uuid.UUID, guardian string) (*AccessRequest, error)

	// Deny records a guardian denial. The request becomes denied once the
	// remaining guardians cannot reach quorum.
	Deny(ctx context.Context, id uuid.UUID, guardian string) (*AccessRequest, error)
}

// applyApproval advances a request by one guardian approval. It mutates r in
// place and is shared by every backend so the transition rules live once.
func applyApproval(r *AccessRequest, guardian string, guardians []string, quorum int, now time.Time) error {
	if !contains(guardians, guardian) {
		return ErrNotGuardian
	}
	if r.Executed {
		// Terminal success state; re-observation is idempotent.
		return nil
	}
	if r.Denied {
		return ErrRequestClosed
	}
	if now.After(r.ExpiresAt) {
		return ErrRequestExpired
	}
	if contains(r.ApprovedBy, guardian) {
		return nil
	}

	// A flipped vote supersedes the earlier denial.
	r.DeniedBy = remove(r.DeniedBy, guardian)
	r.ApprovedBy = append(r.ApprovedBy, guardian)
	if len(r.ApprovedBy) >= quorum {
		r.Executed = true
	}
	return nil
}

// applyDenial records a guardian denial; the request is denied once quorum
// is arithmetically unreachable.
func applyDenial(r *AccessRequest, guardian string, guardians []string, quorum int, now time.Time) error {
	if !contains(guardians, guardian) {
		return ErrNotGuardian
	}
	if r.Executed {
		return ErrRequestClosed
	}
	if r.Denied {
		return nil
	}
	if now.After(r.ExpiresAt) {
		return ErrRequestExpired
	}
	if contains(r.DeniedBy, guardian) {
		return nil
	}

	r.ApprovedBy = remove(r.ApprovedBy, guardian)
	r.DeniedBy = append(r.DeniedBy, guardian)
	if len(guardians)-len(r.DeniedBy) < quorum {
		r.Denied = true
	}
	return nil
}

// validateRegistration checks a registration against the policy before it
// reaches durable storage.
func validateRegistration(p *Patient, quorum int) error {
	if p.Address == "" {
		return fmt.Errorf("%w: patient address is required", ErrInvalidRegistration)
	}
	if p.RecordCID == "" {
		return fmt.Errorf("%w: record address is required", ErrInvalidRegistration)
	}
	seen := make(map[string]bool, len(p.Guardians))
	for _, g := range p.Guardians {
		if g == "" {
			return fmt.Errorf("%w: guardian address must not be empty", ErrInvalidRegistration)
		}
		if g == p.Address {
			return fmt.Errorf("%w: patient cannot be their own guardian", ErrInvalidRegistration)
		}
		if seen[g] {
			return fmt.Errorf("%w: duplicate guardian address %s", ErrInvalidRegistration, g)
		}
		seen[g] = true
	}
	if len(p.Guardians) < quorum {
		return fmt.Errorf("%w: at least %d distinct guardians required", ErrInvalidRegistration, quorum)
	}
	return nil
}

// registrationHash derives the transaction hash returned for a registration
// write.
func registrationHash(p *Patient, at time.Time) string {
	h := sha256.New()
	h.Write([]byte(p.Address))
	h.Write([]byte(p.RecordCID))
	for _, g := range p.Guardians {
		h.Write([]byte(g))
	}
	h.Write([]byte(at.UTC().Format(time.RFC3339Nano)))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
