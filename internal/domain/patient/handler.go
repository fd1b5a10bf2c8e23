package patient

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/edav/edav/internal/ledger"
	"github.com/edav/edav/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patient", auth.RequireRole(auth.RolePatient))
	g.POST("/generate-wallet", h.GenerateWallet)
	g.POST("/register", h.Register)
	g.POST("/upload-record", h.UploadRecord)
	g.POST("/generate-qr", h.GenerateQR)
	g.GET("/:address", h.GetPatient)
}

func (h *Handler) GenerateWallet(c echo.Context) error {
	w, err := h.svc.GenerateWallet()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, WalletResponse{Success: true, Address: w.Address, PrivateKey: w.PrivateKey})
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	txHash, err := h.svc.Register(c.Request().Context(), in.PatientAddress, in.IPFSHash, in.GuardianAddresses)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, RegisterResponse{Success: true, TransactionHash: txHash})
}

func (h *Handler) UploadRecord(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fh.Size > MaxRecordSize {
		return echo.NewHTTPError(http.StatusBadRequest, "file too large")
	}

	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxRecordSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	cid, err := h.svc.UploadRecord(c.Request().Context(), data)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, UploadResponse{
		Success:  true,
		IPFSHash: cid,
		FileName: fh.Filename,
		Size:     fh.Size,
	})
}

func (h *Handler) GenerateQR(c echo.Context) error {
	var in GenerateQRInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	qrData, err := h.svc.GenerateQR(in.PatientAddress, in.IPFSHash)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, GenerateQRResponse{Success: true, QRData: qrData})
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("address"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, PatientResponse{Success: true, Patient: NewPatientView(p)})
}

// mapError translates service and ledger errors to HTTP statuses.
// Registration rule violations read as caller mistakes; the unconfigured
// ledger and storage failures stay 500s with the upstream message.
func mapError(err error) error {
	if errors.Is(err, ledger.ErrPatientNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if errors.Is(err, ledger.ErrInvalidRegistration) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}
