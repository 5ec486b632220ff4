package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"scrapegate/internal/antidetect"
	"scrapegate/internal/driver"
	"scrapegate/internal/shared/logger"
	"scrapegate/internal/shared/types"
)

// APIIntercept loads the page in the browser and captures the API
// responses the page itself fetches. No signing needed: the page's own
// JavaScript produced valid signatures.
type APIIntercept struct {
	drv      driver.AutomationDriver
	detector *antidetect.Detector
	window   time.Duration
}

// NewAPIIntercept creates the strategy.
func NewAPIIntercept(drv driver.AutomationDriver, detector *antidetect.Detector, conf types.StrategyConf) *APIIntercept {
	return &APIIntercept{
		drv:      drv,
		detector: detector,
		window:   time.Duration(conf.InterceptWaitSeconds) * time.Second,
	}
}

func (s *APIIntercept) Source() DataSource { return SourceAPIIntercept }

func (s *APIIntercept) Ready(req Request, _ Exchange) (bool, string) {
	if req.PageURL == "" {
		return false, "no page URL for this request"
	}
	if s.drv == nil {
		return false, "no browser driver attached"
	}
	return true, ""
}

func (s *APIIntercept) Execute(ctx context.Context, req Request, _ Exchange) Attempt {
	match := req.Match
	if match == "" {
		// Interception matches on the path alone; the page may add its
		// own query parameters.
		match = req.APIPath
		if i := strings.IndexByte(match, '?'); i >= 0 {
			match = match[:i]
		}
	}
	if match == "" {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed,
			Reason: "nothing to match intercepted responses against"}
	}

	captured, err := s.drv.InterceptResponses(ctx, req.PageURL, match, s.window)
	if err != nil {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed, Reason: err.Error()}
	}

	var best *driver.InterceptedResponse
	for i := range captured {
		r := &captured[i]
		if r.Status != 200 || len(r.Body) == 0 {
			continue
		}
		if best == nil || len(r.Body) > len(best.Body) {
			best = r
		}
	}

	if best == nil {
		// The page may have landed on a challenge instead of content.
		if st := s.classifyPage(ctx); st.Blocked() {
			return Attempt{Source: s.Source(), Outcome: OutcomeFailed,
				Reason: st.Message, Block: st}
		}
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed,
			Reason: fmt.Sprintf("no usable response matched %q", match)}
	}

	logger.WithComponent("Strategy/Intercept").Debug().
		Str("url", best.URL).
		Int("bytes", len(best.Body)).
		Msg("Captured API response.")

	return Attempt{
		Source:  s.Source(),
		Outcome: OutcomeSucceeded,
		Result:  &Result{Source: s.Source(), Body: best.Body},
	}
}

// classifyPage inspects the current browser page for block signals.
// Driver errors here are swallowed: the attempt already failed.
func (s *APIIntercept) classifyPage(ctx context.Context) antidetect.Status {
	url, err := s.drv.PageURL(ctx)
	if err != nil {
		return antidetect.Status{}
	}
	text, err := s.drv.PageText(ctx)
	if err != nil {
		return antidetect.Status{}
	}
	return s.detector.ClassifyPage(url, text)
}
