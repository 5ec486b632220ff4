package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrapegate/internal/antidetect"
	"scrapegate/internal/captcha"
	"scrapegate/internal/proxypool"
	"scrapegate/internal/ratelimit"
	"scrapegate/internal/shared/types"
)

// stubStrategy returns a canned attempt and counts executions.
type stubStrategy struct {
	src      DataSource
	ready    bool
	reason   string
	attempt  Attempt
	executed int
}

func (s *stubStrategy) Source() DataSource { return s.src }

func (s *stubStrategy) Ready(Request, Exchange) (bool, string) {
	return s.ready, s.reason
}

func (s *stubStrategy) Execute(context.Context, Request, Exchange) Attempt {
	s.executed++
	a := s.attempt
	a.Source = s.src
	return a
}

// fakeSolver records whether it was asked to solve.
type fakeSolver struct {
	called  bool
	succeed bool
}

func (f *fakeSolver) Solve(context.Context, captcha.Challenge) captcha.Solution {
	f.called = true
	return captcha.Solution{Success: f.succeed}
}

func (f *fakeSolver) Balance(context.Context) (float64, bool) { return 0, false }
func (f *fakeSolver) Name() string                            { return "fake" }

func fastLimiter() *ratelimit.Limiter {
	return ratelimit.New(types.RateLimitConf{
		BackoffBase: 0.001,
		BackoffMax:  0.002,
		JitterRange: 0.001,
	})
}

func newOrchestrator(conf types.StrategyConf, pool *proxypool.Pool, solver captcha.Solver, chain ...Strategy) *Orchestrator {
	if solver == nil {
		solver = captcha.NullSolver{}
	}
	return NewOrchestrator(conf, fastLimiter(), pool, solver,
		antidetect.NewSessionHealthMonitor("d_c0"), chain...)
}

func succeeding(src DataSource, body string) *stubStrategy {
	return &stubStrategy{
		src: src, ready: true,
		attempt: Attempt{
			Outcome: OutcomeSucceeded,
			Result:  &Result{Source: src, Body: []byte(body)},
		},
	}
}

func failing(src DataSource, reason string, block antidetect.Status) *stubStrategy {
	return &stubStrategy{
		src: src, ready: true,
		attempt: Attempt{Outcome: OutcomeFailed, Reason: reason, Block: block},
	}
}

func TestFetchFirstSuccessShortCircuits(t *testing.T) {
	first := succeeding(SourcePureAPI, `{"data":[]}`)
	second := succeeding(SourceDOM, "never")
	o := newOrchestrator(types.StrategyConf{}, nil, nil, first, second)

	res, err := o.Fetch(context.Background(), Request{APIPath: "/api/v4/x"})
	require.NoError(t, err)
	assert.Equal(t, SourcePureAPI, res.Source)
	assert.Equal(t, 1, first.executed)
	assert.Equal(t, 0, second.executed, "later strategies must not run after a success")
}

func TestFetchSkipsNotReadyAndFallsThrough(t *testing.T) {
	skipped := &stubStrategy{src: SourcePureAPI, ready: false, reason: "no session token available"}
	dom := succeeding(SourceDOM, "content")
	o := newOrchestrator(types.StrategyConf{}, nil, nil, skipped, dom)

	res, err := o.Fetch(context.Background(), Request{PageURL: "https://x"})
	require.NoError(t, err)
	assert.Equal(t, SourceDOM, res.Source)
	assert.Equal(t, 0, skipped.executed)
}

func TestFetchExhaustionNamesEveryAttempt(t *testing.T) {
	a := &stubStrategy{src: SourcePureAPI, ready: false, reason: "no session token available"}
	b := failing(SourceDOM, "page rendered but no content found", antidetect.Status{})
	o := newOrchestrator(types.StrategyConf{}, nil, nil, a, b)

	_, err := o.Fetch(context.Background(), Request{PageURL: "https://x"})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, OutcomeSkipped, exhausted.Attempts[0].Outcome)
	assert.Equal(t, OutcomeFailed, exhausted.Attempts[1].Outcome)
	assert.Contains(t, err.Error(), "pure_api skipped (no session token available)")
	assert.Contains(t, err.Error(), "dom failed (page rendered but no content found)")
}

func TestFetchPinRunsOnlyPinnedStrategy(t *testing.T) {
	api := succeeding(SourcePureAPI, "api")
	dom := succeeding(SourceDOM, "dom")
	o := newOrchestrator(types.StrategyConf{Pin: "dom"}, nil, nil, api, dom)

	res, err := o.Fetch(context.Background(), Request{PageURL: "https://x"})
	require.NoError(t, err)
	assert.Equal(t, SourceDOM, res.Source)
	assert.Equal(t, 0, api.executed)
}

func TestFetchBlockFeedsLimiterAndPool(t *testing.T) {
	pool := proxypool.New(types.ProxyPoolConf{BanDurationSeconds: 300, MinPoolSize: 1})
	pool.Add("http://1.2.3.4:8080")

	blocked := failing(SourceAPIDirect, "HTTP 429", antidetect.Status{
		Kind:        antidetect.KindRateLimited,
		Message:     "HTTP 429 Too Many Requests",
		RotateProxy: true,
		Wait:        true,
		WaitSeconds: 0.001,
	})
	limiter := fastLimiter()
	o := NewOrchestrator(
		types.StrategyConf{UseProxyPool: true, MaxBlockWaitSeconds: 1},
		limiter, pool, captcha.NullSolver{},
		antidetect.NewSessionHealthMonitor("d_c0"), blocked)

	_, err := o.Fetch(context.Background(), Request{APIPath: "/api/v4/x"})
	require.Error(t, err)

	assert.Equal(t, 1, limiter.ConsecutiveFailures(), "rate-limit block steps the backoff")
	st := pool.Stats()
	assert.Equal(t, 1, st.Banned, "the proxy that served the block gets banned")
}

func TestFetchCaptchaTriesSolver(t *testing.T) {
	solver := &fakeSolver{succeed: true}
	blocked := failing(SourceDOM, "captcha", antidetect.Status{
		Kind:    antidetect.KindCaptcha,
		Message: "CAPTCHA detected",
		Wait:    true,
	})
	o := newOrchestrator(types.StrategyConf{CaptchaWaitSeconds: 1, MaxBlockWaitSeconds: 1}, nil, solver, blocked)

	_, err := o.Fetch(context.Background(), Request{PageURL: "https://x"})
	require.Error(t, err)
	assert.True(t, solver.called)
}

func TestFetchSessionTokenFlowsIntoExchange(t *testing.T) {
	var seen Exchange
	probe := &stubStrategy{src: SourcePureAPI, ready: true,
		attempt: Attempt{Outcome: OutcomeSucceeded, Result: &Result{Source: SourcePureAPI}}}

	o := newOrchestrator(types.StrategyConf{}, nil, nil, probeExchange{probe, &seen})
	o.SetCookies([]types.Cookie{{Name: "d_c0", Value: `"tok123"`, Expires: 4102444800}})

	_, err := o.Fetch(context.Background(), Request{APIPath: "/api/v4/x"})
	require.NoError(t, err)
	assert.Equal(t, "tok123", seen.SessionToken, "quotes are stripped from the token")
	require.Len(t, seen.Cookies, 1)
}

// probeExchange wraps a stub to capture the Exchange it was handed.
type probeExchange struct {
	*stubStrategy
	seen *Exchange
}

func (p probeExchange) Execute(ctx context.Context, req Request, ex Exchange) Attempt {
	*p.seen = ex
	return p.stubStrategy.Execute(ctx, req, ex)
}

func TestFetchAssignsRequestID(t *testing.T) {
	s := succeeding(SourcePureAPI, "x")
	o := newOrchestrator(types.StrategyConf{}, nil, nil, s)

	_, err := o.Fetch(context.Background(), Request{APIPath: "/api/v4/x"})
	require.NoError(t, err)

	_, err = o.Fetch(context.Background(), Request{APIPath: "/api/v4/x", ID: "fixed"})
	require.NoError(t, err)
}
