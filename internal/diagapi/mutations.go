package diagapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/sleuth/internal/signature"
)

// muteRequest is the optional body for mute calls.
type muteRequest struct {
	Reason string `json:"reason"`
}

// resolveRequest is the optional body for resolve calls.
type resolveRequest struct {
	FixNote string `json:"fix_note"`
}

func (a *API) handleMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	a.mutate(w, r, "mute", func(id string) (*signature.Signature, error) {
		return a.svc.Mute(r.Context(), id, req.Reason)
	})
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	a.mutate(w, r, "resolve", func(id string) (*signature.Signature, error) {
		return a.svc.Resolve(r.Context(), id, req.FixNote)
	})
}

func (a *API) handleRetriage(w http.ResponseWriter, r *http.Request) {
	a.mutate(w, r, "retriage", func(id string) (*signature.Signature, error) {
		return a.svc.Retriage(r.Context(), id)
	})
}

func (a *API) mutate(w http.ResponseWriter, r *http.Request, op string, apply func(id string) (*signature.Signature, error)) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("sleuth.signature.id", id),
		attribute.String("sleuth.signature.op", op),
	)

	sig, err := apply(id)
	if err != nil {
		a.writeError(w, r, err, "failed to "+op+" signature", id)
		return
	}

	span.SetAttributes(attribute.String("sleuth.signature.status", string(sig.Status())))

	writeJSON(w, http.StatusOK, sig.Snapshot())
}

// decodeOptional parses a JSON body when one is present. An empty body
// is fine; a malformed one is a 400.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return false
	}
	return true
}
