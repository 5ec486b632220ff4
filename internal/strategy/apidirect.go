package strategy

import (
	"context"
	"fmt"

	"scrapegate/internal/antidetect"
	"scrapegate/internal/apiclient"
	"scrapegate/internal/driver"
	"scrapegate/internal/shared/logger"
)

// APIDirect issues a signed API request with cookies lifted live from the
// attached browser. Covers the case where the state file is stale but the
// browser still holds a valid session.
type APIDirect struct {
	client  *apiclient.Client
	drv     driver.AutomationDriver
	monitor *antidetect.SessionHealthMonitor
}

// NewAPIDirect creates the strategy. A nil driver makes it permanently
// not-ready.
func NewAPIDirect(client *apiclient.Client, drv driver.AutomationDriver, monitor *antidetect.SessionHealthMonitor) *APIDirect {
	return &APIDirect{client: client, drv: drv, monitor: monitor}
}

func (s *APIDirect) Source() DataSource { return SourceAPIDirect }

func (s *APIDirect) Ready(req Request, _ Exchange) (bool, string) {
	if req.APIPath == "" {
		return false, "no API path for this request"
	}
	if s.drv == nil {
		return false, "no browser driver attached"
	}
	return true, ""
}

func (s *APIDirect) Execute(ctx context.Context, req Request, ex Exchange) Attempt {
	cookies, err := s.drv.Cookies(ctx)
	if err != nil {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed,
			Reason: fmt.Sprintf("browser cookies: %v", err)}
	}

	token, ok := s.monitor.Token(cookies)
	if !ok || !s.monitor.Check(cookies) {
		return Attempt{
			Source:  s.Source(),
			Outcome: OutcomeFailed,
			Reason:  "browser session unhealthy",
			Block:   antidetect.Status{Kind: antidetect.KindSessionExpired, Message: "browser session cookie missing or expired", NotifyUser: true},
		}
	}
	logger.WithComponent("Strategy/APIDirect").Debug().
		Int("cookies", len(cookies)).
		Msg("Using live browser session.")

	resp, err := s.client.Get(ctx, req.APIPath, apiclient.RequestOptions{
		SessionToken: token,
		Cookies:      cookies,
		ProxyURL:     ex.ProxyURL,
	})
	if err != nil {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed, Reason: err.Error()}
	}
	if resp.Block.Blocked() {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed,
			Reason: resp.Block.Message, Block: resp.Block}
	}
	if resp.StatusCode != 200 {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed,
			Reason: fmt.Sprintf("unexpected HTTP %d", resp.StatusCode)}
	}
	return Attempt{
		Source:  s.Source(),
		Outcome: OutcomeSucceeded,
		Result:  &Result{Source: s.Source(), Body: resp.Body},
	}
}
