package guardian

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/edav/edav/internal/ledger"
	"github.com/edav/edav/internal/platform/auth"
	"github.com/edav/edav/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/guardian", auth.RequireRole(auth.RoleGuardian))
	g.POST("/approve", h.Approve)
	g.POST("/deny", h.Deny)
	g.GET("/pending", h.Pending)
}

func (h *Handler) Approve(c echo.Context) error {
	return h.vote(c, h.svc.Approve)
}

func (h *Handler) Deny(c echo.Context) error {
	return h.vote(c, h.svc.Deny)
}

func (h *Handler) vote(c echo.Context, submit func(context.Context, uuid.UUID, string) (*ledger.AccessRequest, error)) error {
	var in VoteInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := uuid.Parse(in.RequestID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request id")
	}
	req, err := submit(c.Request().Context(), id, in.GuardianAddress)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, VoteResponse{Success: true, Request: NewRequestView(req, h.svc.now())})
}

func (h *Handler) Pending(c echo.Context) error {
	pg := pagination.FromContext(c)
	reqs, err := h.svc.Pending(c.Request().Context(), c.QueryParam("patient_address"), pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}

	now := h.svc.now()
	views := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, NewRequestView(r, now))
	}
	return c.JSON(http.StatusOK, PendingResponse{Success: true, Requests: views, Count: len(views)})
}

// mapError translates ledger vote errors to HTTP statuses. Votes on closed
// or expired requests are conflicts, not server failures.
func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrRequestNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrNotGuardian):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrRequestClosed), errors.Is(err, ledger.ErrRequestExpired):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}
