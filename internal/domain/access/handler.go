package access

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/edav/edav/internal/ledger"
	"github.com/edav/edav/internal/platform/auth"
	"github.com/edav/edav/internal/qr"
	"github.com/edav/edav/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/hospital", auth.RequireRole(auth.RoleHospital))
	g.POST("/request-access", h.RequestAccess)
	g.GET("/access-status/:requestId", h.AccessStatus)
	g.POST("/download-record", h.DownloadRecord)
	g.POST("/parse-qr", h.ParseQR)
	g.GET("/requests", h.ListRequests)
}

func (h *Handler) RequestAccess(c echo.Context) error {
	var in RequestAccessInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.RequestAccess(c.Request().Context(), in.PatientAddress, in.HospitalID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, RequestAccessResponse{Success: true, RequestID: req.ID.String()})
}

func (h *Handler) AccessStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("requestId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request id")
	}
	req, err := h.svc.Status(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Success: true, Request: NewRequestView(req, h.svc.now())})
}

func (h *Handler) DownloadRecord(c echo.Context) error {
	var in DownloadInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := uuid.Parse(in.RequestID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request id")
	}
	plaintext, cid, err := h.svc.Download(c.Request().Context(), id, in.PatientID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, DownloadResponse{
		Success:  true,
		FileData: base64.StdEncoding.EncodeToString(plaintext),
		IPFSHash: cid,
	})
}

func (h *Handler) ParseQR(c echo.Context) error {
	var in ParseQRInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	payload, err := h.svc.ParseQR(in.QRData)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, ParseQRResponse{
		Success:        true,
		PatientAddress: payload.PatientAddress,
		IPFSHash:       payload.IPFSHash,
		Timestamp:      payload.Timestamp,
	})
}

func (h *Handler) ListRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	reqs, total, err := h.svc.ListRequests(c.Request().Context(), c.QueryParam("patient_address"), pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	now := h.svc.now()
	views := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, NewRequestView(r, now))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

// mapError translates service and ledger errors to HTTP statuses. Anything
// unmatched falls through to the envelope error handler as a 500 with the
// upstream message intact.
func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrRequestNotFound), errors.Is(err, ledger.ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotYetApproved),
		errors.Is(err, ledger.ErrRequestExpired),
		errors.Is(err, ledger.ErrRequestClosed):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrPatientMismatch), errors.Is(err, qr.ErrMalformedQR):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}
