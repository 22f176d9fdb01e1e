package rates

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/platform/httpx"
	"github.com/clinicos/backoffice/internal/shared"
)

// Resolver is the behaviour the HTTP layer needs.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (Result, error)
	InvalidateRules(ctx context.Context) error
}

// Handler exposes rate resolution over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   Resolver
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service Resolver) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers HTTP routes for the rates module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/resolve", h.resolve)
	r.Post("/cache/invalidate", h.invalidate)
}

type resolveRequest struct {
	CompanyID    string          `json:"company_id" validate:"required,uuid"`
	Scope        string          `json:"scope" validate:"required,oneof=OPD LAB DIAG IPD"`
	VisitType    string          `json:"visit_type" validate:"omitempty,oneof=new followup any"`
	DoctorID     string          `json:"doctor_id"`
	DepartmentID string          `json:"department_id"`
	TestID       string          `json:"test_id"`
	TestGroupID  string          `json:"test_group_id"`
	IPDItemType  string          `json:"ipd_item_type" validate:"omitempty,oneof=bed procedure service"`
	ReferenceID  string          `json:"reference_id"`
	Candidates   []Candidate     `json:"candidates" validate:"omitempty,dive"`
	DefaultPrice decimal.Decimal `json:"default_price"`
	AsOf         *time.Time      `json:"as_of"`
}

func (in resolveRequest) toRequest() (Request, error) {
	companyID, err := uuid.Parse(in.CompanyID)
	if err != nil {
		return Request{}, fmt.Errorf("%w: company_id: %v", shared.ErrInvalidRequest, err)
	}
	req := Request{
		CompanyID:    companyID,
		Scope:        Scope(in.Scope),
		VisitType:    VisitType(in.VisitType),
		DefaultPrice: in.DefaultPrice,
		Candidates:   in.Candidates,
	}
	if in.AsOf != nil {
		req.AsOf = *in.AsOf
	}
	if len(req.Candidates) == 0 {
		switch req.Scope {
		case ScopeOPD:
			req.Candidates = OPDCandidates(in.DoctorID, in.DepartmentID)
		case ScopeLAB, ScopeDIAG:
			req.Candidates = TestCandidates(in.TestID, in.TestGroupID)
		case ScopeIPD:
			req.Candidates = IPDCandidates(IPDItemType(in.IPDItemType), in.ReferenceID)
		}
	}
	return req, nil
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	if err := httpx.DecodeJSON(w, r, h.validator, &body); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	req, err := body.toRequest()
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	result, err := h.service.Resolve(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.InvalidateRules(r.Context()); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
