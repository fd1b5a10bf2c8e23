// Package qr encodes and parses the emergency QR payload patients carry.
// The payload is a small JSON bundle; the "type" discriminator keeps scanners
// from treating arbitrary QR content as an emergency grant.
package qr

import (
	"encoding/json"
	"fmt"
	"time"
)

// PayloadType is the discriminator value every emergency payload must carry.
const PayloadType = "EDAV_EMERGENCY"

// ErrMalformedQR is returned for any payload that is not a well-formed
// emergency bundle: invalid JSON, missing fields, or a wrong discriminator.
// A wrong discriminator is still ErrMalformedQR, never a raw parse error.
var ErrMalformedQR = fmt.Errorf("malformed emergency QR payload")

// Payload is the scanned emergency bundle. Field names match the wire format
// the patient-side generator produces.
type Payload struct {
	Type           string `json:"type"`
	PatientAddress string `json:"patientAddress"`
	IPFSHash       string `json:"ipfsHash"`
	Timestamp      int64  `json:"timestamp"`
}

// Encode builds the JSON payload string for a patient's record.
func Encode(patientAddress, ipfsHash string) (string, error) {
	if patientAddress == "" {
		return "", fmt.Errorf("patient address is required")
	}
	if ipfsHash == "" {
		return "", fmt.Errorf("record hash is required")
	}
	p := Payload{
		Type:           PayloadType,
		PatientAddress: patientAddress,
		IPFSHash:       ipfsHash,
		Timestamp:      time.Now().UnixMilli(),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode QR payload: %w", err)
	}
	return string(data), nil
}

// Parse validates raw scanned text as an emergency payload.
func Parse(raw string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON", ErrMalformedQR)
	}
	if p.Type != PayloadType {
		return nil, fmt.Errorf("%w: unexpected type %q", ErrMalformedQR, p.Type)
	}
	if p.PatientAddress == "" {
		return nil, fmt.Errorf("%w: missing patientAddress", ErrMalformedQR)
	}
	if p.IPFSHash == "" {
		return nil, fmt.Errorf("%w: missing ipfsHash", ErrMalformedQR)
	}
	return &p, nil
}
