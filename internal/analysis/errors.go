package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/krishkpatil/CreditUdaan/internal/ai"
)

// BackpressureError rejects a request because the concurrency cap and the
// waiting queue are both full. Safe to retry after a short delay.
type BackpressureError struct {
	Cap   int
	Queue int
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("analysis rejected: %d running and %d queued requests already admitted", e.Cap, e.Queue)
}

// ModelUnavailableError reports that the requested model version cannot
// serve predictions.
type ModelUnavailableError struct {
	Version string
	Reason  string
}

func (e *ModelUnavailableError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("no servable model: %s", e.Reason)
	}
	return fmt.Sprintf("model %s unavailable: %s", e.Version, e.Reason)
}

// Explanation degradation kinds, used for logging and metrics labels. The
// analysis itself still completes via the template fallback.
const (
	causeTimeout   = "timeout"
	causeMalformed = "malformed"
	causeUpstream  = "upstream"
)

func explanationCauseKind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return causeTimeout
	}
	var incomplete *ai.IncompleteError
	if errors.As(err, &incomplete) {
		return causeMalformed
	}
	msg := err.Error()
	if strings.Contains(msg, "parse ai response") || strings.Contains(msg, "empty") {
		return causeMalformed
	}
	return causeUpstream
}
