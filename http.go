package dominject

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/dominject/internal/kit"
	"github.com/hazyhaar/dominject/internal/shield"
)

// Routes returns the control API:
//
//	GET    /health
//	GET    /integrations
//	GET    /pages
//	GET    /pages/{pageID}
//	POST   /pages/{pageID}/scan
//	DELETE /pages/{pageID}
func (i *Injector) Routes() chi.Router {
	eps := i.endpoints()

	r := chi.NewRouter()
	for _, mw := range shield.Stack(i.logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pages": len(i.Status())})
	})
	r.Get("/integrations", serve(eps.integrations, func(*http.Request) any { return nil }))
	r.Get("/pages", serve(eps.status, func(*http.Request) any { return &statusRequest{} }))
	r.Get("/pages/{pageID}", serve(eps.status, func(r *http.Request) any {
		return &statusRequest{PageID: chi.URLParam(r, "pageID")}
	}))
	r.Post("/pages/{pageID}/scan", serve(eps.rescan, func(r *http.Request) any {
		return &rescanRequest{PageID: chi.URLParam(r, "pageID")}
	}))
	r.Delete("/pages/{pageID}", serve(eps.detach, func(r *http.Request) any {
		return &detachRequest{PageID: chi.URLParam(r, "pageID")}
	}))
	return r
}

func serve(ep kit.Endpoint, decode func(*http.Request) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := ep(r.Context(), decode(r))
		if err != nil {
			shield.GetLogger(r.Context()).Debug("dominject: request failed", "error", err)
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnknownPage):
		return http.StatusNotFound
	case errors.Is(err, ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
