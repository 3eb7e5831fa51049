// Package diagapi exposes the operator HTTP surface: signature lookup,
// mute/resolve/retriage, and store statistics.
package diagapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/sleuth/internal/manage"
	"github.com/linnemanlabs/sleuth/internal/signature"
)

// ManagementService defines the business operations diagapi needs.
type ManagementService interface {
	Mute(ctx context.Context, id, reason string) (*signature.Signature, error)
	Resolve(ctx context.Context, id, fixNote string) (*signature.Signature, error)
	Retriage(ctx context.Context, id string) (*signature.Signature, error)
	GetDetails(ctx context.Context, id string) (*manage.Details, error)
	Stats(ctx context.Context) (signature.StoreStats, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    ManagementService
}

// New creates a new API handler.
func New(logger log.Logger, svc ManagementService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("management service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/signatures/{id}", a.handleGetSignature)
		r.Post("/signatures/{id}/mute", a.handleMute)
		r.Post("/signatures/{id}/resolve", a.handleResolve)
		r.Post("/signatures/{id}/retriage", a.handleRetriage)
		r.Get("/stats", a.handleStats)
	})
}

func (a *API) handleGetSignature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sleuth.signature.id", id))

	details, err := a.svc.GetDetails(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get signature", id)
		return
	}

	span.SetAttributes(attribute.String("sleuth.signature.status", string(details.Signature.Status)))

	writeJSON(w, http.StatusOK, details)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.Stats(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get stats")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeError maps domain errors onto HTTP statuses. Unknown failures
// stay opaque 500s so storage detail never leaks to callers.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg, id string) {
	switch {
	case errors.Is(err, signature.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case signature.IsInvalidTransition(err), errors.Is(err, signature.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		a.logger.Error(r.Context(), err, msg, "signature_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
