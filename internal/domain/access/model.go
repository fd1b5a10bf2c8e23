package access

import (
	"time"

	"github.com/edav/edav/internal/ledger"
)

// RequestAccessInput is the hospital-side request body for opening an
// emergency access request.
type RequestAccessInput struct {
	PatientAddress string `json:"patientAddress"`
	HospitalID     string `json:"hospitalId"`
}

type RequestAccessResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"requestId"`
}

// RequestView is the wire shape of an access request snapshot. Timestamp is
// the creation time as a unix timestamp, matching the QR payload convention.
type RequestView struct {
	ID        string `json:"id"`
	Patient   string `json:"patient"`
	Hospital  string `json:"hospital"`
	IPFSHash  string `json:"ipfsHash"`
	Timestamp int64  `json:"timestamp"`
	ExpiresAt int64  `json:"expiresAt"`
	Approvals int    `json:"approvals"`
	Denials   int    `json:"denials"`
	Executed  bool   `json:"executed"`
	State     string `json:"state"`
}

// NewRequestView projects a ledger snapshot at the given instant.
func NewRequestView(r *ledger.AccessRequest, now time.Time) RequestView {
	return RequestView{
		ID:        r.ID.String(),
		Patient:   r.Patient,
		Hospital:  r.Hospital,
		IPFSHash:  r.RecordCID,
		Timestamp: r.CreatedAt.Unix(),
		ExpiresAt: r.ExpiresAt.Unix(),
		Approvals: r.Approvals(),
		Denials:   r.Denials(),
		Executed:  r.Executed,
		State:     string(r.State(now)),
	}
}

type StatusResponse struct {
	Success bool        `json:"success"`
	Request RequestView `json:"request"`
}

type DownloadInput struct {
	RequestID string `json:"requestId"`
	PatientID string `json:"patientId"`
}

type DownloadResponse struct {
	Success  bool   `json:"success"`
	FileData string `json:"fileData"`
	IPFSHash string `json:"ipfsHash"`
}

type ParseQRInput struct {
	QRData string `json:"qrData"`
}

type ParseQRResponse struct {
	Success        bool   `json:"success"`
	PatientAddress string `json:"patientAddress"`
	IPFSHash       string `json:"ipfsHash"`
	Timestamp      int64  `json:"timestamp"`
}
