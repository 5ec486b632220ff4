// Package strategy implements the fallback chain for content extraction:
// a fixed order of acquisition strategies, each tried in turn until one
// succeeds, with block handling between attempts.
package strategy

import (
	"context"

	"scrapegate/internal/antidetect"
	"scrapegate/internal/shared/types"
)

// DataSource names an acquisition strategy. The values double as the pin
// names accepted in config.
type DataSource string

const (
	SourcePureAPI      DataSource = "pure_api"
	SourceAPIDirect    DataSource = "api_direct"
	SourceAPIIntercept DataSource = "api_intercept"
	SourceDOM          DataSource = "dom"
)

// Request describes one content fetch. The orchestrator assigns the ID.
type Request struct {
	ID      string
	PageURL string // canonical page URL, used by the browser strategies
	APIPath string // API path plus query, used by the API strategies
	Match   string // URL substring for interception; empty falls back to APIPath
}

// Result is the extracted content of a successful attempt.
type Result struct {
	Source DataSource
	Body   []byte // raw payload: JSON for API sources, extracted text for dom
	HTML   string // serialized DOM, dom source only
}

// Outcome is the three-way verdict of one strategy attempt. A skip means
// preconditions were not met and nothing was sent; a failure means the
// attempt ran and did not produce content.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeSkipped
	OutcomeSucceeded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Attempt records one strategy execution for the audit trail.
type Attempt struct {
	Source  DataSource
	Outcome Outcome
	Result  *Result
	Reason  string            // populated for skips and failures
	Block   antidetect.Status // populated when a block was classified
}

// Exchange carries the per-attempt runtime inputs the orchestrator
// resolves before each strategy runs.
type Exchange struct {
	SessionToken string
	Cookies      []types.Cookie
	ProxyURL     string
}

// Strategy is one acquisition path.
type Strategy interface {
	// Source identifies the strategy.
	Source() DataSource

	// Ready reports whether preconditions hold, with a reason when they
	// do not. A not-ready strategy is skipped without consuming rate
	// budget.
	Ready(req Request, ex Exchange) (bool, string)

	// Execute runs the attempt. Called only after Ready returned true.
	Execute(ctx context.Context, req Request, ex Exchange) Attempt
}
