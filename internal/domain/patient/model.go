package patient

import (
	"github.com/edav/edav/internal/ledger"
)

// Wallet is a freshly generated keypair. The private key never touches
// server storage; it exists only in this response.
type Wallet struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
}

type WalletResponse struct {
	Success    bool   `json:"success"`
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
}

type RegisterInput struct {
	PatientAddress    string   `json:"patientAddress"`
	IPFSHash          string   `json:"ipfsHash"`
	GuardianAddresses []string `json:"guardianAddresses"`
}

type RegisterResponse struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash"`
}

type UploadResponse struct {
	Success  bool   `json:"success"`
	IPFSHash string `json:"ipfsHash"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
}

type GenerateQRInput struct {
	PatientAddress string `json:"patientAddress"`
	IPFSHash       string `json:"ipfsHash"`
}

type GenerateQRResponse struct {
	Success bool   `json:"success"`
	QRData  string `json:"qrData"`
}

// PatientView is the wire shape of a registration.
type PatientView struct {
	Address      string   `json:"address"`
	IPFSHash     string   `json:"ipfsHash"`
	Guardians    []string `json:"guardians"`
	RegisteredAt int64    `json:"registeredAt"`
}

type PatientResponse struct {
	Success bool        `json:"success"`
	Patient PatientView `json:"patient"`
}

func NewPatientView(p *ledger.Patient) PatientView {
	return PatientView{
		Address:      p.Address,
		IPFSHash:     p.RecordCID,
		Guardians:    p.Guardians,
		RegisteredAt: p.RegisteredAt.Unix(),
	}
}
