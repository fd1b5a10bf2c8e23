// Package integration wires the full HTTP surface against the in-memory
// ledger and record store and drives the emergency access lifecycle the way
// a hospital client would: upload, register, scan, request, approve to
// quorum, download.
package integration

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/edav/edav/internal/domain/access"
	"github.com/edav/edav/internal/domain/guardian"
	"github.com/edav/edav/internal/domain/patient"
	"github.com/edav/edav/internal/ledger"
	"github.com/edav/edav/internal/platform/auth"
	"github.com/edav/edav/internal/platform/middleware"
	"github.com/edav/edav/internal/platform/seal"
	"github.com/edav/edav/internal/recordstore"
)

const (
	patientAddr = "0xP1"
	hospitalID  = "HOSP-77"
	guardianA   = "0xGA"
	guardianB   = "0xGB"
	guardianC   = "0xGC"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	key := make([]byte, seal.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	sealer, err := seal.New(key)
	if err != nil {
		t.Fatal(err)
	}

	led := ledger.NewMemory(ledger.DefaultPolicy())
	store := recordstore.NewMemoryStore()

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.ErrorHandler(zerolog.Nop())
	e.Use(middleware.Recovery(zerolog.Nop()))
	e.Use(middleware.RequestID())
	e.Use(auth.DevAuthMiddleware())

	api := e.Group("/api")
	access.NewHandler(access.NewService(led, store, sealer)).RegisterRoutes(api)
	patient.NewHandler(patient.NewService(led, store, sealer)).RegisterRoutes(api)
	guardian.NewHandler(guardian.NewService(led)).RegisterRoutes(api)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string, out interface{}) int {
	t.Helper()
	resp, err := http.Post(url, echo.MIMEApplicationJSON, strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	decode(t, resp.Body, out)
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	decode(t, resp.Body, out)
	return resp.StatusCode
}

func decode(t *testing.T, r io.Reader, out interface{}) {
	t.Helper()
	if out == nil {
		return
	}
	if err := json.NewDecoder(r).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func uploadRecord(t *testing.T, base string, content []byte) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "history.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(base+"/api/patient/upload-record", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out patient.UploadResponse
	decode(t, resp.Body, &out)
	if resp.StatusCode != http.StatusCreated || !out.Success || out.IPFSHash == "" {
		t.Fatalf("upload failed: status=%d body=%+v", resp.StatusCode, out)
	}
	return out.IPFSHash
}

func TestEmergencyAccessLifecycle(t *testing.T) {
	srv := newServer(t)
	base := srv.URL
	record := []byte("blood type AB-, allergic to penicillin")

	// Patient side: upload the sealed record and register with guardians.
	cid := uploadRecord(t, base, record)

	var reg patient.RegisterResponse
	code := postJSON(t, base+"/api/patient/register",
		fmt.Sprintf(`{"patientAddress":%q,"ipfsHash":%q,"guardianAddresses":[%q,%q,%q]}`,
			patientAddr, cid, guardianA, guardianB, guardianC), &reg)
	if code != http.StatusCreated || !reg.Success || !strings.HasPrefix(reg.TransactionHash, "0x") {
		t.Fatalf("register failed: status=%d body=%+v", code, reg)
	}

	var qrResp patient.GenerateQRResponse
	code = postJSON(t, base+"/api/patient/generate-qr",
		fmt.Sprintf(`{"patientAddress":%q,"ipfsHash":%q}`, patientAddr, cid), &qrResp)
	if code != http.StatusOK || qrResp.QRData == "" {
		t.Fatalf("generate-qr failed: status=%d body=%+v", code, qrResp)
	}

	// Hospital side: scan the QR and open a request.
	var parsed access.ParseQRResponse
	body, _ := json.Marshal(access.ParseQRInput{QRData: qrResp.QRData})
	code = postJSON(t, base+"/api/hospital/parse-qr", string(body), &parsed)
	if code != http.StatusOK || parsed.PatientAddress != patientAddr || parsed.IPFSHash != cid {
		t.Fatalf("parse-qr round trip failed: status=%d body=%+v", code, parsed)
	}

	var created access.RequestAccessResponse
	code = postJSON(t, base+"/api/hospital/request-access",
		fmt.Sprintf(`{"patientAddress":%q,"hospitalId":%q}`, patientAddr, hospitalID), &created)
	if code != http.StatusCreated || created.RequestID == "" {
		t.Fatalf("request-access failed: status=%d body=%+v", code, created)
	}

	// Immediately after creation: 0 approvals, not executed.
	var status access.StatusResponse
	code = getJSON(t, base+"/api/hospital/access-status/"+created.RequestID, &status)
	if code != http.StatusOK {
		t.Fatalf("access-status failed: %d", code)
	}
	if status.Request.Approvals != 0 || status.Request.Executed {
		t.Fatalf("fresh request must be pending with 0 approvals: %+v", status.Request)
	}

	// Download before quorum must 403 and leave the request untouched.
	downloadBody := fmt.Sprintf(`{"requestId":%q,"patientId":%q}`, created.RequestID, patientAddr)
	var failure struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	code = postJSON(t, base+"/api/hospital/download-record", downloadBody, &failure)
	if code != http.StatusForbidden || failure.Success {
		t.Fatalf("expected 403 envelope before quorum, got status=%d body=%+v", code, failure)
	}

	// Guardians approve out of band, one at a time.
	var vote guardian.VoteResponse
	code = postJSON(t, base+"/api/guardian/approve",
		fmt.Sprintf(`{"requestId":%q,"guardianAddress":%q}`, created.RequestID, guardianA), &vote)
	if code != http.StatusOK || vote.Request.Approvals != 1 || vote.Request.Executed {
		t.Fatalf("first approval: status=%d body=%+v", code, vote)
	}

	code = postJSON(t, base+"/api/guardian/approve",
		fmt.Sprintf(`{"requestId":%q,"guardianAddress":%q}`, created.RequestID, guardianB), &vote)
	if code != http.StatusOK || !vote.Request.Executed {
		t.Fatalf("quorum approval must execute: status=%d body=%+v", code, vote)
	}

	// Status now reports executed.
	code = getJSON(t, base+"/api/hospital/access-status/"+created.RequestID, &status)
	if code != http.StatusOK || !status.Request.Executed {
		t.Fatalf("status after quorum: status=%d body=%+v", code, status.Request)
	}
	if status.Request.State != string(ledger.StateExecuted) {
		t.Fatalf("expected executed state, got %s", status.Request.State)
	}

	// Download succeeds and returns the original plaintext.
	var dl access.DownloadResponse
	code = postJSON(t, base+"/api/hospital/download-record", downloadBody, &dl)
	if code != http.StatusOK || !dl.Success {
		t.Fatalf("download after quorum: status=%d body=%+v", code, dl)
	}
	if dl.IPFSHash != cid {
		t.Fatalf("expected cid %s, got %s", cid, dl.IPFSHash)
	}
	plain, err := base64.StdEncoding.DecodeString(dl.FileData)
	if err != nil {
		t.Fatalf("fileData is not base64: %v", err)
	}
	if !bytes.Equal(plain, record) {
		t.Fatal("downloaded record does not match the upload")
	}

	// Retrieval is non-consuming: a second download returns the same record.
	var dl2 access.DownloadResponse
	code = postJSON(t, base+"/api/hospital/download-record", downloadBody, &dl2)
	if code != http.StatusOK || dl2.FileData != dl.FileData || dl2.IPFSHash != dl.IPFSHash {
		t.Fatalf("repeated download differs: status=%d", code)
	}
}

func TestLifecycle_DenialClosesRequest(t *testing.T) {
	srv := newServer(t)
	base := srv.URL

	cid := uploadRecord(t, base, []byte("record"))
	postJSON(t, base+"/api/patient/register",
		fmt.Sprintf(`{"patientAddress":%q,"ipfsHash":%q,"guardianAddresses":[%q,%q,%q]}`,
			patientAddr, cid, guardianA, guardianB, guardianC), nil)

	var created access.RequestAccessResponse
	postJSON(t, base+"/api/hospital/request-access",
		fmt.Sprintf(`{"patientAddress":%q,"hospitalId":%q}`, patientAddr, hospitalID), &created)

	// Two denials of three guardians make the quorum of two unreachable.
	var vote guardian.VoteResponse
	postJSON(t, base+"/api/guardian/deny",
		fmt.Sprintf(`{"requestId":%q,"guardianAddress":%q}`, created.RequestID, guardianA), &vote)
	if vote.Request.State != string(ledger.StatePending) {
		t.Fatalf("one denial must leave the request pending: %+v", vote.Request)
	}

	postJSON(t, base+"/api/guardian/deny",
		fmt.Sprintf(`{"requestId":%q,"guardianAddress":%q}`, created.RequestID, guardianB), &vote)
	if vote.Request.State != string(ledger.StateDenied) {
		t.Fatalf("expected denied state: %+v", vote.Request)
	}

	// Late approval conflicts; download is forbidden.
	var failure struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	code := postJSON(t, base+"/api/guardian/approve",
		fmt.Sprintf(`{"requestId":%q,"guardianAddress":%q}`, created.RequestID, guardianC), &failure)
	if code != http.StatusConflict {
		t.Fatalf("expected 409 approving a denied request, got %d", code)
	}

	code = postJSON(t, base+"/api/hospital/download-record",
		fmt.Sprintf(`{"requestId":%q,"patientId":%q}`, created.RequestID, patientAddr), &failure)
	if code != http.StatusForbidden {
		t.Fatalf("expected 403 downloading a denied request, got %d", code)
	}
}

func TestLifecycle_QRMismatchRejected(t *testing.T) {
	srv := newServer(t)
	base := srv.URL

	var failure struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	body, _ := json.Marshal(access.ParseQRInput{QRData: `{"type":"NOT_EDAV","patientAddress":"0xP1","ipfsHash":"x","timestamp":1}`})
	code := postJSON(t, base+"/api/hospital/parse-qr", string(body), &failure)
	if code != http.StatusBadRequest || failure.Success {
		t.Fatalf("expected 400 envelope for wrong discriminator, got status=%d body=%+v", code, failure)
	}
	if !strings.Contains(failure.Error, "malformed") {
		t.Fatalf("expected malformed QR message, got %q", failure.Error)
	}
}
