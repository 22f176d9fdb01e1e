package corporatehttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/corporate"
	"github.com/clinicos/backoffice/internal/corporate/export"
	"github.com/clinicos/backoffice/internal/platform/httpx"
	"github.com/clinicos/backoffice/internal/rates"
	"github.com/clinicos/backoffice/internal/shared"
)

// IdempotencyHeader carries the caller's key for payment creation.
const IdempotencyHeader = "Idempotency-Key"

// BillingService is the corporate ledger contract used by the HTTP layer.
type BillingService interface {
	CreateTransaction(ctx context.Context, in corporate.CreateTransactionInput) (corporate.Transaction, error)
	Accrue(ctx context.Context, in corporate.AccrueInput) (corporate.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (corporate.Transaction, error)
	TransactionHistory(ctx context.Context, id uuid.UUID) (corporate.Effective, error)
	ReverseTransaction(ctx context.Context, id uuid.UUID, reason string) (corporate.Transaction, error)
	RejectTransaction(ctx context.Context, id uuid.UUID, reason string) (corporate.Transaction, error)

	GenerateClaim(ctx context.Context, in corporate.GenerateClaimInput) (corporate.Claim, error)
	ListClaims(ctx context.Context, companyID *uuid.UUID) ([]corporate.Claim, error)
	GetClaim(ctx context.Context, id uuid.UUID) (corporate.Claim, error)
	LockClaim(ctx context.Context, id uuid.UUID) (corporate.Claim, error)
	UnlockClaim(ctx context.Context, id uuid.UUID) (corporate.Claim, error)
	MarkClaimExported(ctx context.Context, id uuid.UUID) (corporate.Claim, error)
	RemoveClaim(ctx context.Context, id uuid.UUID) error
	ClaimMembers(ctx context.Context, id uuid.UUID) (corporate.Claim, []corporate.Transaction, error)

	CreatePayment(ctx context.Context, in corporate.CreatePaymentInput) (corporate.PaymentResult, error)
	GetPayment(ctx context.Context, id uuid.UUID) (corporate.Payment, error)

	OutstandingReport(ctx context.Context, companyID *uuid.UUID) ([]corporate.OutstandingRow, error)
	AgingReport(ctx context.Context, companyID *uuid.UUID, asOf time.Time) ([]corporate.AgingRow, error)
}

// Handler serves the corporate billing API.
type Handler struct {
	logger    *slog.Logger
	service   BillingService
	validator *validator.Validate
	csvPool   sync.Pool
}

// NewHandler constructs the corporate HTTP handler.
func NewHandler(logger *slog.Logger, service BillingService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger, service: service, validator: validator.New()}
	h.csvPool.New = func() interface{} { return new(bytes.Buffer) }
	return h
}

type transactionRequest struct {
	CompanyID   string `json:"company_id" validate:"required,uuid"`
	PatientMRN  string `json:"patient_mrn" validate:"required"`
	PatientName string `json:"patient_name"`
	ServiceType string `json:"service_type" validate:"required,oneof=OPD LAB DIAG IPD"`
	RefType     string `json:"ref_type" validate:"required"`
	RefID       string `json:"ref_id" validate:"required"`
	ItemRef     string `json:"item_ref"`
	Description string `json:"description"`
	// Qty defaults to one when omitted.
	Qty                decimal.Decimal  `json:"qty"`
	ListUnitPrice      decimal.Decimal  `json:"list_unit_price"`
	CorporateUnitPrice *decimal.Decimal `json:"corporate_unit_price"`
	CoPayPct           decimal.Decimal  `json:"co_pay_pct"`
	CoPay              *decimal.Decimal `json:"co_pay"`
	AppliedRuleID      string           `json:"applied_rule_id"`
	// Without corporate_unit_price the price is resolved from these.
	Candidates []rates.Candidate `json:"candidates" validate:"omitempty,dive"`
	VisitType  string            `json:"visit_type" validate:"omitempty,oneof=new followup any"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type generateClaimRequest struct {
	CompanyID string `json:"company_id" validate:"required,uuid"`
	FromDate  string `json:"from_date" validate:"omitempty,datetime=2006-01-02"`
	ToDate    string `json:"to_date" validate:"omitempty,datetime=2006-01-02"`
}

type allocationRequest struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type paymentRequest struct {
	CompanyID   string              `json:"company_id" validate:"required,uuid"`
	Date        string              `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Reference   string              `json:"reference"`
	Amount      decimal.Decimal     `json:"amount"`
	Allocations []allocationRequest `json:"allocations"`
}

type claimResponse struct {
	corporate.Claim
	Transactions []corporate.Transaction `json:"transactions"`
}

func (h *Handler) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var body transactionRequest
	if err := httpx.DecodeJSON(w, r, h.validator, &body); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	companyID, err := parseID(body.CompanyID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := corporate.CreateTransactionInput{
		CompanyID:     companyID,
		PatientMRN:    body.PatientMRN,
		PatientName:   body.PatientName,
		ServiceType:   corporate.ServiceType(body.ServiceType),
		RefType:       body.RefType,
		RefID:         body.RefID,
		ItemRef:       body.ItemRef,
		Description:   body.Description,
		Qty:           body.Qty,
		ListUnitPrice: body.ListUnitPrice,
		CoPayPct:      body.CoPayPct,
		CoPay:         body.CoPay,
		AppliedRuleID: body.AppliedRuleID,
	}
	var tx corporate.Transaction
	if body.CorporateUnitPrice != nil {
		in.CorporateUnitPrice = *body.CorporateUnitPrice
		tx, err = h.service.CreateTransaction(r.Context(), in)
	} else {
		tx, err = h.service.Accrue(r.Context(), corporate.AccrueInput{
			CreateTransactionInput: in,
			Candidates:             body.Candidates,
			VisitType:              rates.VisitType(body.VisitType),
		})
	}
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tx)
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.service.GetTransaction(r.Context(), id)
	h.respond(w, http.StatusOK, tx, err)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	eff, err := h.service.TransactionHistory(r.Context(), id)
	h.respond(w, http.StatusOK, eff, err)
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	body, ok := h.optionalReason(w, r)
	if !ok {
		return
	}
	tx, err := h.service.ReverseTransaction(r.Context(), id, body.Reason)
	h.respond(w, http.StatusCreated, tx, err)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	body, ok := h.optionalReason(w, r)
	if !ok {
		return
	}
	tx, err := h.service.RejectTransaction(r.Context(), id, body.Reason)
	h.respond(w, http.StatusOK, tx, err)
}

func (h *Handler) handleGenerateClaim(w http.ResponseWriter, r *http.Request) {
	var body generateClaimRequest
	if err := httpx.DecodeJSON(w, r, h.validator, &body); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	companyID, err := parseID(body.CompanyID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	claim, err := h.service.GenerateClaim(r.Context(), corporate.GenerateClaimInput{
		CompanyID: companyID,
		FromDate:  parseDate(body.FromDate),
		ToDate:    parseDate(body.ToDate),
	})
	h.respond(w, http.StatusCreated, claim, err)
}

func (h *Handler) handleListClaims(w http.ResponseWriter, r *http.Request) {
	companyID, err := queryCompany(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	claims, err := h.service.ListClaims(r.Context(), companyID)
	if claims == nil {
		claims = []corporate.Claim{}
	}
	h.respond(w, http.StatusOK, claims, err)
}

func (h *Handler) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	claim, members, err := h.service.ClaimMembers(r.Context(), id)
	if members == nil {
		members = []corporate.Transaction{}
	}
	h.respond(w, http.StatusOK, claimResponse{Claim: claim, Transactions: members}, err)
}

func (h *Handler) handleLockClaim(w http.ResponseWriter, r *http.Request) {
	h.claimTransition(w, r, h.service.LockClaim)
}

func (h *Handler) handleUnlockClaim(w http.ResponseWriter, r *http.Request) {
	h.claimTransition(w, r, h.service.UnlockClaim)
}

func (h *Handler) handleMarkExported(w http.ResponseWriter, r *http.Request) {
	h.claimTransition(w, r, h.service.MarkClaimExported)
}

func (h *Handler) claimTransition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (corporate.Claim, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	claim, err := fn(r.Context(), id)
	h.respond(w, http.StatusOK, claim, err)
}

func (h *Handler) handleRemoveClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveClaim(r.Context(), id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExportClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	claim, members, err := h.service.ClaimMembers(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.writeCSV(w, claim.ClaimNo+".csv", func(buf io.Writer) error {
		return export.WriteClaimCSV(buf, members)
	})
}

func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var body paymentRequest
	if err := httpx.DecodeJSON(w, r, h.validator, &body); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	companyID, err := parseID(body.CompanyID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := corporate.CreatePaymentInput{
		CompanyID:      companyID,
		Reference:      body.Reference,
		Amount:         body.Amount,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	}
	if date := parseDate(body.Date); date != nil {
		in.Date = *date
	}
	for _, a := range body.Allocations {
		in.Allocations = append(in.Allocations, corporate.AllocationRequest{TransactionID: a.TransactionID, Amount: a.Amount})
	}
	res, err := h.service.CreatePayment(r.Context(), in)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	payment, err := h.service.GetPayment(r.Context(), id)
	h.respond(w, http.StatusOK, payment, err)
}

func (h *Handler) handleOutstanding(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.outstanding(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleOutstandingCSV(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.outstanding(w, r)
	if !ok {
		return
	}
	h.writeCSV(w, "corporate-outstanding.csv", func(buf io.Writer) error {
		return export.WriteOutstandingCSV(buf, rows)
	})
}

func (h *Handler) handleAging(w http.ResponseWriter, r *http.Request) {
	rows, _, ok := h.aging(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleAgingCSV(w http.ResponseWriter, r *http.Request) {
	rows, asOf, ok := h.aging(w, r)
	if !ok {
		return
	}
	h.writeCSV(w, fmt.Sprintf("corporate-aging-%s.csv", asOf), func(buf io.Writer) error {
		return export.WriteAgingCSV(buf, rows)
	})
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) ([]corporate.OutstandingRow, bool) {
	companyID, err := queryCompany(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return nil, false
	}
	rows, err := h.service.OutstandingReport(r.Context(), companyID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return nil, false
	}
	if rows == nil {
		rows = []corporate.OutstandingRow{}
	}
	return rows, true
}

// aging reads ?company_id= and ?as_of=YYYY-MM-DD; as_of defaults to now.
func (h *Handler) aging(w http.ResponseWriter, r *http.Request) ([]corporate.AgingRow, string, bool) {
	companyID, err := queryCompany(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return nil, "", false
	}
	var asOf time.Time
	label := "current"
	if raw := strings.TrimSpace(r.URL.Query().Get("as_of")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.RespondError(w, h.logger, fmt.Errorf("%w: as_of must be YYYY-MM-DD", shared.ErrInvalidRequest))
			return nil, "", false
		}
		// A date covers the whole day.
		asOf = parsed.Add(24*time.Hour - time.Nanosecond)
		label = raw
	}
	rows, err := h.service.AgingReport(r.Context(), companyID, asOf)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return nil, "", false
	}
	if rows == nil {
		rows = []corporate.AgingRow{}
	}
	return rows, label, true
}

func (h *Handler) writeCSV(w http.ResponseWriter, filename string, write func(io.Writer) error) {
	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer h.csvPool.Put(buf)
	if err := write(buf); err != nil {
		h.logger.Error("write csv", slog.String("file", filename), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "could not render export")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("write csv response", slog.Any("error", err))
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, data any, err error) {
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, status, data)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) optionalReason(w http.ResponseWriter, r *http.Request) (reasonRequest, bool) {
	var body reasonRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(w, r, nil, &body); err != nil {
			httpx.RespondError(w, h.logger, err)
			return body, false
		}
	}
	return body, true
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id %q", shared.ErrInvalidRequest, raw)
	}
	return id, nil
}

func queryCompany(r *http.Request) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("company_id"))
	if raw == "" {
		return nil, nil
	}
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// parseDate expects a value already checked by the datetime validator.
func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil
	}
	return &t
}
