package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is a mutex-guarded in-memory AccessLedger for development
// and tests. The mutex is the arbiter of concurrent approval writes, the
// role transaction ordering plays for a chain-backed ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	policy   Policy
	patients map[string]*Patient
	requests map[uuid.UUID]*AccessRequest

	// now is swappable so expiry transitions are testable.
	now func() time.Time
}

// NewMemory returns an empty MemoryLedger enforcing the given policy.
func NewMemory(policy Policy) *MemoryLedger {
	if policy.Quorum <= 0 {
		policy.Quorum = DefaultPolicy().Quorum
	}
	return &MemoryLedger{
		policy:   policy,
		patients: make(map[string]*Patient),
		requests: make(map[uuid.UUID]*AccessRequest),
		now:      time.Now,
	}
}

// SetClock overrides the ledger clock. Test hook.
func (l *MemoryLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *MemoryLedger) RegisterPatient(_ context.Context, p *Patient) (string, error) {
	if err := validateRegistration(p, l.policy.Quorum); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stored := p.clone()
	stored.RegisteredAt = l.now()
	l.patients[p.Address] = stored
	return registrationHash(stored, stored.RegisteredAt), nil
}

func (l *MemoryLedger) GetPatient(_ context.Context, address string) (*Patient, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.patients[address]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p.clone(), nil
}

func (l *MemoryLedger) CreateRequest(_ context.Context, patientAddress, hospitalID string) (*AccessRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.patients[patientAddress]
	if !ok {
		return nil, ErrPatientNotFound
	}

	now := l.now()
	r := &AccessRequest{
		ID:        uuid.New(),
		Patient:   patientAddress,
		Hospital:  hospitalID,
		RecordCID: p.RecordCID,
		CreatedAt: now,
		ExpiresAt: l.policy.deadline(now),
	}
	l.requests[r.ID] = r
	return r.Clone(), nil
}

func (l *MemoryLedger) GetRequest(_ context.Context, id uuid.UUID) (*AccessRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return r.Clone(), nil
}

func (l *MemoryLedger) ListRequestsByPatient(_ context.Context, patientAddress string, limit, offset int) ([]*AccessRequest, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matched []*AccessRequest
	for _, r := range l.requests {
		if r.Patient == patientAddress {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	out := make([]*AccessRequest, 0, end-offset)
	for _, r := range matched[offset:end] {
		out = append(out, r.Clone())
	}
	return out, total, nil
}

func (l *MemoryLedger) Approve(_ context.Context, id uuid.UUID, guardian string) (*AccessRequest, error) {
	return l.vote(id, guardian, applyApproval)
}

func (l *MemoryLedger) Deny(_ context.Context, id uuid.UUID, guardian string) (*AccessRequest, error) {
	return l.vote(id, guardian, applyDenial)
}

func (l *MemoryLedger) vote(id uuid.UUID, guardian string, apply func(*AccessRequest, string, []string, int, time.Time) error) (*AccessRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	p, ok := l.patients[r.Patient]
	if !ok {
		return nil, ErrPatientNotFound
	}

	if err := apply(r, guardian, p.Guardians, l.policy.Quorum, l.now()); err != nil {
		return nil, err
	}
	return r.Clone(), nil
}
