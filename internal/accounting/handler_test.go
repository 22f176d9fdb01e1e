package accounting

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, _, _ := newTestService(t)
	h := NewHandler(slog.Default(), svc)
	r := chi.NewRouter()
	r.Route("/finance", h.MountRoutes)
	return r, svc
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPostAndReverse(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/finance/journals", `{
		"date": "2024-03-01",
		"ref_type": "manual",
		"ref_id": "m-1",
		"lines": [
			{"account": "CASH", "debit": "75.50"},
			{"account": "OPD_REVENUE", "credit": "75.50", "tags": {"departmentId": "dep-1"}}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entry JournalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.Len(t, entry.Lines, 2)

	rec = doJSON(t, router, http.MethodPost, "/finance/journals/"+entry.ID.String()+"/reverse", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reversal JournalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reversal))
	require.Equal(t, "manual_reversal", reversal.RefType)

	rec = doJSON(t, router, http.MethodGet, "/finance/balance?account=OPD_REVENUE&tag.departmentId=dep-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var balance balanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	require.True(t, balance.Balance.IsZero())
	require.Equal(t, "dep-1", balance.Tags[TagDepartmentID])
}

func TestHandlerRejectsUnbalancedWithConflict(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/finance/journals", `{
		"ref_type": "manual",
		"ref_id": "m-2",
		"lines": [
			{"account": "CASH", "debit": "10"},
			{"account": "OPD_REVENUE", "credit": "9"}
		]
	}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "unbalanced entry")
}

func TestHandlerValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/finance/journals", `{"ref_type": "manual", "ref_id": "x", "lines": []}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/finance/journals/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/finance/postings/doctor-payout", `{"payout_id": "p", "doctor_id": "d", "amount": "5", "method": "corporate"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerDoctorPostings(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/finance/postings/opd-token", `{
		"token_id": "tok-7", "doctor_id": "doc-7", "fee": "500", "doctor_share_pct": "40"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/finance/postings/doctor-payout", `{
		"payout_id": "po-1", "doctor_id": "doc-7", "amount": "250"
	}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/finance/postings/doctor-payout", `{
		"payout_id": "po-2", "doctor_id": "doc-7", "amount": "200"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/finance/doctors/doc-7/payable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var balance balanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	requireAmount(t, "0", balance.Balance)
}
