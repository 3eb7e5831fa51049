package investigate

import (
	"context"
	"errors"

	"github.com/linnemanlabs/sleuth/internal/signature"
)

// Sentinel errors a diagnosis engine must use so callers can tell a
// spent budget from a slow backend from a garbled response.
var (
	ErrBudgetExceeded    = errors.New("diagnosis budget exceeded")
	ErrTimeout           = errors.New("diagnosis timed out")
	ErrMalformedResponse = errors.New("malformed diagnosis response")
)

// Engine produces a diagnosis from an assembled investigation context.
type Engine interface {
	Diagnose(ctx context.Context, ictx *Context) (*signature.Diagnosis, error)
	EstimateCost(ictx *Context) float64
}

// Notifier reports finished diagnoses and cycle summaries. Rendering
// (Slack, ticket, console) is the implementation's business.
type Notifier interface {
	Report(ctx context.Context, sig *signature.Signature, diag *signature.Diagnosis) error
	ReportSummary(ctx context.Context, stats signature.StoreStats) error
}
