package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Patient is a registration on the ledger: the patient's address, the
// content address of their sealed record, and the guardian set whose
// approvals gate emergency access.
type Patient struct {
	Address      string    `json:"address"`
	RecordCID    string    `json:"record_cid"`
	Guardians    []string  `json:"guardians"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RequestState is the observable state of an access request.
type RequestState string

const (
	StatePending  RequestState = "pending"
	StateExecuted RequestState = "executed"
	StateDenied   RequestState = "denied"
	StateExpired  RequestState = "expired"
)

// AccessRequest is an emergency access request and its approval tally.
// ID, Patient, Hospital, RecordCID and CreatedAt are immutable after
// creation; Executed transitions false to true at most once.
type AccessRequest struct {
	ID         uuid.UUID `json:"id"`
	Patient    string    `json:"patient"`
	Hospital   string    `json:"hospital"`
	RecordCID  string    `json:"record_cid"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	ApprovedBy []string  `json:"approved_by"`
	DeniedBy   []string  `json:"denied_by"`
	Executed   bool      `json:"executed"`
	Denied     bool      `json:"denied"`
}

// Approvals returns the current approval count.
func (r *AccessRequest) Approvals() int { return len(r.ApprovedBy) }

// Denials returns the current denial count.
func (r *AccessRequest) Denials() int { return len(r.DeniedBy) }

// State reports the request's state at the given instant. Executed and
// denied are terminal; a pending request past its deadline reads as expired.
func (r *AccessRequest) State(now time.Time) RequestState {
	switch {
	case r.Executed:
		return StateExecuted
	case r.Denied:
		return StateDenied
	case now.After(r.ExpiresAt):
		return StateExpired
	default:
		return StatePending
	}
}

// Clone returns a deep copy so callers cannot mutate ledger state through
// a returned snapshot.
func (r *AccessRequest) Clone() *AccessRequest {
	out := *r
	out.ApprovedBy = append([]string(nil), r.ApprovedBy...)
	out.DeniedBy = append([]string(nil), r.DeniedBy...)
	return &out
}

func (p *Patient) clone() *Patient {
	out := *p
	out.Guardians = append([]string(nil), p.Guardians...)
	return &out
}
