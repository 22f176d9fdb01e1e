package rates

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	last Request
}

func (s *stubResolver) Resolve(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	s.last = req
	return Result{Price: dec("950"), AppliedRuleID: "rule-1", Mode: ModeFixedDiscount, Value: dec("50")}, nil
}

func (s *stubResolver) InvalidateRules(ctx context.Context) error { return nil }

func newRouter(svc Resolver) http.Handler {
	r := chi.NewRouter()
	r.Route("/rates", NewHandler(nil, svc).MountRoutes)
	return r
}

func TestHandlerResolveBuildsOPDLadder(t *testing.T) {
	svc := &stubResolver{}
	body := `{"company_id":"` + companyA.String() + `","scope":"OPD","visit_type":"new","doctor_id":"doc-1","department_id":"dept-1","default_price":"1000"}`
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rates/resolve", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, OPDCandidates("doc-1", "dept-1"), svc.last.Candidates)
	assert.True(t, svc.last.DefaultPrice.Equal(dec("1000")))

	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "rule-1", res.AppliedRuleID)
	assert.True(t, res.Price.Equal(dec("950")))
}

func TestHandlerResolveRejectsBadScope(t *testing.T) {
	body := `{"company_id":"` + companyA.String() + `","scope":"XRAY","default_price":"10"}`
	rec := httptest.NewRecorder()
	newRouter(&stubResolver{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rates/resolve", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerResolveRejectsUnknownFields(t *testing.T) {
	body := `{"company_id":"` + companyA.String() + `","scope":"OPD","price":"10"}`
	rec := httptest.NewRecorder()
	newRouter(&stubResolver{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rates/resolve", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
