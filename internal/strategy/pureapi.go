package strategy

import (
	"context"
	"fmt"

	"scrapegate/internal/apiclient"
)

// PureAPI issues a signed API request with no browser involved, using the
// session cookies loaded from the persisted state file. Fastest path,
// first in the chain.
type PureAPI struct {
	client *apiclient.Client
}

// NewPureAPI creates the strategy.
func NewPureAPI(client *apiclient.Client) *PureAPI {
	return &PureAPI{client: client}
}

func (s *PureAPI) Source() DataSource { return SourcePureAPI }

// Ready requires an API path and a session token: without a token the
// signature cannot authenticate and the request is guaranteed to bounce.
func (s *PureAPI) Ready(req Request, ex Exchange) (bool, string) {
	if req.APIPath == "" {
		return false, "no API path for this request"
	}
	if ex.SessionToken == "" {
		return false, ErrSignatureUnavailable.Error()
	}
	return true, ""
}

func (s *PureAPI) Execute(ctx context.Context, req Request, ex Exchange) Attempt {
	resp, err := s.client.Get(ctx, req.APIPath, apiclient.RequestOptions{
		SessionToken: ex.SessionToken,
		Cookies:      ex.Cookies,
		ProxyURL:     ex.ProxyURL,
	})
	if err != nil {
		return Attempt{Source: s.Source(), Outcome: OutcomeFailed, Reason: err.Error()}
	}
	if resp.Block.Blocked() {
		return Attempt{
			Source:  s.Source(),
			Outcome: OutcomeFailed,
			Reason:  resp.Block.Message,
			Block:   resp.Block,
		}
	}
	if resp.StatusCode != 200 {
		return Attempt{
			Source:  s.Source(),
			Outcome: OutcomeFailed,
			Reason:  fmt.Sprintf("unexpected HTTP %d", resp.StatusCode),
		}
	}
	return Attempt{
		Source:  s.Source(),
		Outcome: OutcomeSucceeded,
		Result:  &Result{Source: s.Source(), Body: resp.Body},
	}
}
