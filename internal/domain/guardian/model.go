package guardian

import (
	"time"

	"github.com/edav/edav/internal/ledger"
)

type VoteInput struct {
	RequestID       string `json:"requestId"`
	GuardianAddress string `json:"guardianAddress"`
}

// RequestView is the post-vote snapshot returned to the guardian.
type RequestView struct {
	ID        string `json:"id"`
	Patient   string `json:"patient"`
	Hospital  string `json:"hospital"`
	Approvals int    `json:"approvals"`
	Denials   int    `json:"denials"`
	Executed  bool   `json:"executed"`
	State     string `json:"state"`
	ExpiresAt int64  `json:"expiresAt"`
}

type VoteResponse struct {
	Success bool        `json:"success"`
	Request RequestView `json:"request"`
}

type PendingResponse struct {
	Success  bool          `json:"success"`
	Requests []RequestView `json:"requests"`
	Count    int           `json:"count"`
}

func NewRequestView(r *ledger.AccessRequest, now time.Time) RequestView {
	return RequestView{
		ID:        r.ID.String(),
		Patient:   r.Patient,
		Hospital:  r.Hospital,
		Approvals: r.Approvals(),
		Denials:   r.Denials(),
		Executed:  r.Executed,
		State:     string(r.State(now)),
		ExpiresAt: r.ExpiresAt.Unix(),
	}
}
