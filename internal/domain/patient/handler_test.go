package patient

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	svc, _, _ := newTestService(t)
	return NewHandler(svc), echo.New()
}

func postJSON(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_GenerateWallet(t *testing.T) {
	h, e := newTestHandler(t)
	c, rec := postJSON(e, "")

	if err := h.GenerateWallet(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var out WalletResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Address == "" || out.PrivateKey == "" {
		t.Errorf("incomplete wallet response: %+v", out)
	}
}

func TestHandler_Register(t *testing.T) {
	h, e := newTestHandler(t)
	c, rec := postJSON(e, `{"patientAddress":"`+patientAddr+`","ipfsHash":"QmHash","guardianAddresses":["`+guardianA+`","`+guardianB+`"]}`)

	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var out RegisterResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || !strings.HasPrefix(out.TransactionHash, "0x") {
		t.Errorf("unexpected register response: %+v", out)
	}
}

func TestHandler_Register_TooFewGuardians(t *testing.T) {
	h, e := newTestHandler(t)
	c, _ := postJSON(e, `{"patientAddress":"`+patientAddr+`","ipfsHash":"QmHash","guardianAddresses":["`+guardianA+`"]}`)

	err := h.Register(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func multipartUpload(t *testing.T, e *echo.Echo, fieldName, fileName string, content []byte) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(fieldName, fileName)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_UploadRecord(t *testing.T) {
	h, e := newTestHandler(t)
	content := []byte("medical history pdf bytes")
	c, rec := multipartUpload(t, e, "file", "history.pdf", content)

	if err := h.UploadRecord(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var out UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.IPFSHash == "" {
		t.Errorf("missing ipfsHash: %+v", out)
	}
	if out.FileName != "history.pdf" {
		t.Errorf("expected fileName history.pdf, got %s", out.FileName)
	}
	if out.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), out.Size)
	}
}

func TestHandler_UploadRecord_NoFile(t *testing.T) {
	h, e := newTestHandler(t)
	c, _ := multipartUpload(t, e, "attachment", "history.pdf", []byte("data"))

	err := h.UploadRecord(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 when file field is missing, got %v", err)
	}
}

func TestHandler_GenerateQR(t *testing.T) {
	h, e := newTestHandler(t)
	c, rec := postJSON(e, `{"patientAddress":"`+patientAddr+`","ipfsHash":"QmHash"}`)

	if err := h.GenerateQR(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out GenerateQRResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.QRData == "" {
		t.Errorf("missing qrData: %+v", out)
	}
}

func TestHandler_GetPatient(t *testing.T) {
	h, e := newTestHandler(t)

	c, _ := postJSON(e, `{"patientAddress":"`+patientAddr+`","ipfsHash":"QmHash","guardianAddresses":["`+guardianA+`","`+guardianB+`"]}`)
	if err := h.Register(c); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("address")
	c.SetParamValues(patientAddr)

	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out PatientResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Patient.Address != patientAddr || len(out.Patient.Guardians) != 2 {
		t.Errorf("unexpected patient view: %+v", out.Patient)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("address")
	c.SetParamValues("0xNOBODY")

	err := h.GetPatient(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
