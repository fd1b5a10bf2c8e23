package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Unconfigured is the backend wired when no ledger storage is configured.
// Every call fails with ErrNotConfigured so handlers surface a clear,
// typed error instead of a nil-pointer panic on first use.
type Unconfigured struct{}

func (Unconfigured) RegisterPatient(context.Context, *Patient) (string, error) {
	return "", ErrNotConfigured
}

func (Unconfigured) GetPatient(context.Context, string) (*Patient, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) CreateRequest(context.Context, string, string) (*AccessRequest, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) GetRequest(context.Context, uuid.UUID) (*AccessRequest, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) ListRequestsByPatient(context.Context, string, int, int) ([]*AccessRequest, int, error) {
	return nil, 0, ErrNotConfigured
}

func (Unconfigured) Approve(context.Context, uuid.UUID, string) (*AccessRequest, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) Deny(context.Context, uuid.UUID, string) (*AccessRequest, error) {
	return nil, ErrNotConfigured
}
