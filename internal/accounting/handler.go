package accounting

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/platform/httpx"
	"github.com/clinicos/backoffice/internal/shared"
)

// Handler wires finance journal endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers HTTP routes for the journal module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/journals", h.post)
	r.Get("/journals/{id}", h.get)
	r.Post("/journals/{id}/reverse", h.reverseByID)
	r.Post("/journals/reverse-by-ref", h.reverseByRef)
	r.Get("/balance", h.balance)
	r.Post("/postings/opd-token", h.postOPDToken)
	r.Post("/postings/doctor-earning", h.postDoctorEarning)
	r.Post("/postings/doctor-payout", h.postDoctorPayout)
	r.Get("/doctors/{doctorID}/payable", h.doctorPayable)
}

type lineRequest struct {
	Account string            `json:"account" validate:"required"`
	Debit   decimal.Decimal   `json:"debit"`
	Credit  decimal.Decimal   `json:"credit"`
	Tags    map[string]string `json:"tags"`
}

type postRequest struct {
	Date    string        `json:"date" validate:"omitempty,datetime=2006-01-02"`
	RefType string        `json:"ref_type" validate:"required"`
	RefID   string        `json:"ref_id" validate:"required"`
	Memo    string        `json:"memo"`
	Lines   []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

type reverseRequest struct {
	RefType string `json:"ref_type"`
	RefID   string `json:"ref_id"`
	Memo    string `json:"memo"`
}

type opdTokenRequest struct {
	TokenID        string          `json:"token_id" validate:"required"`
	DoctorID       string          `json:"doctor_id"`
	DepartmentID   string          `json:"department_id"`
	PatientID      string          `json:"patient_id"`
	SessionID      string          `json:"session_id"`
	Fee            decimal.Decimal `json:"fee"`
	DoctorSharePct decimal.Decimal `json:"doctor_share_pct"`
	Method         string          `json:"method" validate:"omitempty,oneof=cash bank corporate"`
	Date           string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Memo           string          `json:"memo"`
}

type doctorEarningRequest struct {
	EarningID string          `json:"earning_id" validate:"required"`
	DoctorID  string          `json:"doctor_id" validate:"required"`
	SessionID string          `json:"session_id"`
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Memo      string          `json:"memo"`
}

type doctorPayoutRequest struct {
	PayoutID string          `json:"payout_id" validate:"required"`
	DoctorID string          `json:"doctor_id" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"method" validate:"omitempty,oneof=cash bank"`
	Date     string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Memo     string          `json:"memo"`
}

type balanceResponse struct {
	Account Account         `json:"account"`
	Tags    Tags            `json:"tags,omitempty"`
	Balance decimal.Decimal `json:"balance"`
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	var body postRequest
	if err := httpx.DecodeJSON(w, r, h.validator, &body); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	lines := make([]JournalLine, len(body.Lines))
	for i, line := range body.Lines {
		lines[i] = JournalLine{Account: Account(line.Account), Debit: line.Debit, Credit: line.Credit, Tags: line.Tags}
	}
	entry, err := h.service.Post(r.Context(), PostingInput{
		Date:    parseDate(body.Date),
		RefType: body.RefType,
		RefID:   body.RefID,
		Memo:    body.Memo,
		Lines:   lines,
	})
	h.respondEntry(w, entry, err)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	h.respondEntry(w, entry, err)
}

func (h *Handler) reverseByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var body reverseRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(w, r, nil, &body); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	entry, err := h.service.ReverseByID(r.Context(), id, body.Memo)
	h.respondEntry(w, entry, err)
}

func (h *Handler) reverseByRef(w http.ResponseWriter, r *http.Request) {
	var body reverseRequest
	if err := httpx.DecodeJSON(w, r, nil, &body); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entry, err := h.service.ReverseByRef(r.Context(), body.RefType, body.RefID, body.Memo)
	h.respondEntry(w, entry, err)
}

// balance reads the account from ?account= and tag filters from ?tag.<key>=.
func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	account := Account(query.Get("account"))
	filter := Tags{}
	for key, values := range query {
		if name, ok := strings.CutPrefix(key, "tag."); ok && name != "" && len(values) > 0 {
			filter[name] = values[0]
		}
	}
	balance, err := h.service.Balance(r.Context(), account, filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{Account: account, Tags: compactTags(filter), Balance: balance})
}

func (h *Handler) postOPDToken(w http.ResponseWriter, r *http.Request) {
	var body opdTokenRequest
	if err := httpx.DecodeJSON(w, r, h.validator, &body); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entry, err := h.service.PostOPDToken(r.Context(), OPDTokenPosting{
		TokenID:        body.TokenID,
		DoctorID:       body.DoctorID,
		DepartmentID:   body.DepartmentID,
		PatientID:      body.PatientID,
		SessionID:      body.SessionID,
		Fee:            body.Fee,
		DoctorSharePct: body.DoctorSharePct,
		Method:         PaymentMethod(body.Method),
		Date:           parseDate(body.Date),
		Memo:           body.Memo,
	})
	h.respondEntry(w, entry, err)
}

func (h *Handler) postDoctorEarning(w http.ResponseWriter, r *http.Request) {
	var body doctorEarningRequest
	if err := httpx.DecodeJSON(w, r, h.validator, &body); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entry, err := h.service.PostDoctorEarning(r.Context(), DoctorEarningPosting{
		EarningID: body.EarningID,
		DoctorID:  body.DoctorID,
		SessionID: body.SessionID,
		Amount:    body.Amount,
		Date:      parseDate(body.Date),
		Memo:      body.Memo,
	})
	h.respondEntry(w, entry, err)
}

func (h *Handler) postDoctorPayout(w http.ResponseWriter, r *http.Request) {
	var body doctorPayoutRequest
	if err := httpx.DecodeJSON(w, r, h.validator, &body); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entry, err := h.service.PostDoctorPayout(r.Context(), DoctorPayoutPosting{
		PayoutID: body.PayoutID,
		DoctorID: body.DoctorID,
		Amount:   body.Amount,
		Method:   PaymentMethod(body.Method),
		Date:     parseDate(body.Date),
		Memo:     body.Memo,
	})
	h.respondEntry(w, entry, err)
}

func (h *Handler) doctorPayable(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorID")
	balance, err := h.service.DoctorPayableBalance(r.Context(), doctorID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{
		Account: AccountDoctorPayable,
		Tags:    Tags{TagDoctorID: doctorID},
		Balance: balance,
	})
}

func (h *Handler) respondEntry(w http.ResponseWriter, entry JournalEntry, err error) {
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id %q", shared.ErrInvalidRequest, raw)
	}
	return id, nil
}

// parseDate expects a value already checked by the datetime validator.
func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, _ := time.Parse("2006-01-02", raw)
	return t
}
