package strategy

import (
	"errors"
	"fmt"
	"strings"

	"scrapegate/internal/antidetect"
)

// Error taxonomy shared by the strategies and the orchestrator.
var (
	// ErrSignatureUnavailable means no session token exists to sign with.
	// Signing strategies decline (skip) with this reason rather than fail.
	ErrSignatureUnavailable = errors.New("no session token available")

	// ErrProxyExhausted means the pool has no non-banned entries.
	ErrProxyExhausted = errors.New("proxy pool has no available entries")

	// ErrCaptchaUnsolved means the solver failed or is the no-op default.
	ErrCaptchaUnsolved = errors.New("captcha could not be solved")
)

// BlockedError wraps a block classification when a caller needs it as an
// error value.
type BlockedError struct {
	Status antidetect.Status
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked: %s: %s", e.Status.Kind, e.Status.Message)
}

// ExhaustedError is returned when every strategy in the chain was tried
// and none produced content. It names each attempt and its verdict so the
// failure is diagnosable from the error string alone.
type ExhaustedError struct {
	RequestID string
	Attempts  []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		s := fmt.Sprintf("%s %s", a.Source, a.Outcome)
		if a.Reason != "" {
			s += " (" + a.Reason + ")"
		}
		parts = append(parts, s)
	}
	return fmt.Sprintf("all strategies exhausted for request %s: %s",
		e.RequestID, strings.Join(parts, "; "))
}
