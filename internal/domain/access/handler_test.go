package access

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/edav/edav/internal/ledger"
	"github.com/edav/edav/internal/qr"
)

func newTestHandler(t *testing.T, record []byte) (*Handler, *ledger.MemoryLedger, *echo.Echo) {
	t.Helper()
	svc, led, _ := fixture(t, record)
	return NewHandler(svc), led, echo.New()
}

func postJSON(e *echo.Echo, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_RequestAccess(t *testing.T) {
	h, _, e := newTestHandler(t, []byte("record"))
	c, rec := postJSON(e, "/", `{"patientAddress":"`+patientAddr+`","hospitalId":"`+hospitalID+`"}`)

	if err := h.RequestAccess(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var out RequestAccessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if !out.Success {
		t.Error("expected success true")
	}
	if _, err := uuid.Parse(out.RequestID); err != nil {
		t.Errorf("requestId is not a uuid: %q", out.RequestID)
	}
}

func TestHandler_RequestAccess_MissingFields(t *testing.T) {
	h, _, e := newTestHandler(t, []byte("record"))
	c, _ := postJSON(e, "/", `{"hospitalId":"`+hospitalID+`"}`)

	err := h.RequestAccess(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_RequestAccess_UnknownPatient(t *testing.T) {
	h, _, e := newTestHandler(t, []byte("record"))
	c, _ := postJSON(e, "/", `{"patientAddress":"0xNOBODY","hospitalId":"`+hospitalID+`"}`)

	err := h.RequestAccess(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_AccessStatus(t *testing.T) {
	h, led, e := newTestHandler(t, []byte("record"))
	ctx := context.Background()

	created, err := led.CreateRequest(ctx, patientAddr, hospitalID)
	if err != nil {
		t.Fatal(err)
	}
	led.Approve(ctx, created.ID, guardianA)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("requestId")
	c.SetParamValues(created.ID.String())

	if err := h.AccessStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var out StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Request.Approvals != 1 {
		t.Errorf("expected 1 approval, got %d", out.Request.Approvals)
	}
	if out.Request.Executed {
		t.Error("request must not be executed at 1 of 2 approvals")
	}
	if out.Request.State != string(ledger.StatePending) {
		t.Errorf("expected pending state, got %s", out.Request.State)
	}
}

func TestHandler_AccessStatus_BadID(t *testing.T) {
	h, _, e := newTestHandler(t, []byte("record"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("requestId")
	c.SetParamValues("not-a-uuid")

	err := h.AccessStatus(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_AccessStatus_Unknown(t *testing.T) {
	h, _, e := newTestHandler(t, []byte("record"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("requestId")
	c.SetParamValues(uuid.New().String())

	err := h.AccessStatus(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_DownloadRecord_Forbidden(t *testing.T) {
	h, led, e := newTestHandler(t, []byte("record"))

	created, err := led.CreateRequest(context.Background(), patientAddr, hospitalID)
	if err != nil {
		t.Fatal(err)
	}

	c, _ := postJSON(e, "/", `{"requestId":"`+created.ID.String()+`","patientId":"`+patientAddr+`"}`)
	err = h.DownloadRecord(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403 before quorum, got %v", err)
	}
}

func TestHandler_DownloadRecord(t *testing.T) {
	record := []byte("full medical history")
	h, led, e := newTestHandler(t, record)
	ctx := context.Background()

	created, err := led.CreateRequest(ctx, patientAddr, hospitalID)
	if err != nil {
		t.Fatal(err)
	}
	led.Approve(ctx, created.ID, guardianA)
	led.Approve(ctx, created.ID, guardianB)

	c, rec := postJSON(e, "/", `{"requestId":"`+created.ID.String()+`","patientId":"`+patientAddr+`"}`)
	if err := h.DownloadRecord(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out DownloadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	decoded, err := base64.StdEncoding.DecodeString(out.FileData)
	if err != nil {
		t.Fatalf("fileData is not base64: %v", err)
	}
	if string(decoded) != string(record) {
		t.Error("decoded record does not match the original")
	}
	if out.IPFSHash == "" {
		t.Error("expected ipfsHash in response")
	}
}

func TestHandler_ParseQR(t *testing.T) {
	h, _, e := newTestHandler(t, []byte("record"))

	raw, err := qr.Encode(patientAddr, "QmHash")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(ParseQRInput{QRData: raw})

	c, rec := postJSON(e, "/", string(body))
	if err := h.ParseQR(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out ParseQRResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.PatientAddress != patientAddr || out.IPFSHash != "QmHash" {
		t.Errorf("unexpected payload: %+v", out)
	}
}

func TestHandler_ParseQR_Malformed(t *testing.T) {
	h, _, e := newTestHandler(t, []byte("record"))

	c, _ := postJSON(e, "/", `{"qrData":"{\"type\":\"WRONG\"}"}`)
	err := h.ParseQR(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for wrong discriminator, got %v", err)
	}
}

func TestHandler_ListRequests(t *testing.T) {
	h, led, e := newTestHandler(t, []byte("record"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := led.CreateRequest(ctx, patientAddr, hospitalID); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/?patient_address="+patientAddr+"&limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListRequests(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		Success bool          `json:"success"`
		Data    []RequestView `json:"data"`
		Total   int           `json:"total"`
		HasMore bool          `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Total != 3 || len(out.Data) != 2 || !out.HasMore {
		t.Errorf("unexpected list response: %+v", out)
	}
}
