package corporatehttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const exportLimit = 10
const exportWindow = time.Minute

// MountRoutes registers the corporate billing endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(exportLimit, exportWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Post("/transactions", h.handleCreateTransaction)
	r.Get("/transactions/{id}", h.handleGetTransaction)
	r.Get("/transactions/{id}/history", h.handleHistory)
	r.Post("/transactions/{id}/reverse", h.handleReverse)
	r.Post("/transactions/{id}/reject", h.handleReject)

	r.Post("/claims", h.handleGenerateClaim)
	r.Get("/claims", h.handleListClaims)
	r.Get("/claims/{id}", h.handleGetClaim)
	r.Post("/claims/{id}/lock", h.handleLockClaim)
	r.Post("/claims/{id}/unlock", h.handleUnlockClaim)
	r.Post("/claims/{id}/exported", h.handleMarkExported)
	r.Delete("/claims/{id}", h.handleRemoveClaim)

	r.Post("/payments", h.handleCreatePayment)
	r.Get("/payments/{id}", h.handleGetPayment)

	r.Get("/reports/outstanding", h.handleOutstanding)
	r.Get("/reports/aging", h.handleAging)

	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/claims/{id}/export.csv", h.handleExportClaim)
		gr.Get("/reports/outstanding.csv", h.handleOutstandingCSV)
		gr.Get("/reports/aging.csv", h.handleAgingCSV)
	})
}
