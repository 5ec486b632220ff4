package strategy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"scrapegate/internal/antidetect"
	"scrapegate/internal/captcha"
	"scrapegate/internal/proxypool"
	"scrapegate/internal/ratelimit"
	"scrapegate/internal/shared/logger"
	"scrapegate/internal/shared/types"
)

// Orchestrator runs the fallback chain. One instance serves many
// requests; the chain order is fixed at construction.
type Orchestrator struct {
	conf    types.StrategyConf
	limiter *ratelimit.Limiter
	pool    *proxypool.Pool // nil when the pool is disabled
	solver  captcha.Solver
	monitor *antidetect.SessionHealthMonitor
	chain   []Strategy

	cookies []types.Cookie
}

// NewOrchestrator assembles the orchestrator. The chain is tried in the
// order given.
func NewOrchestrator(
	conf types.StrategyConf,
	limiter *ratelimit.Limiter,
	pool *proxypool.Pool,
	solver captcha.Solver,
	monitor *antidetect.SessionHealthMonitor,
	chain ...Strategy,
) *Orchestrator {
	return &Orchestrator{
		conf:    conf,
		limiter: limiter,
		pool:    pool,
		solver:  solver,
		monitor: monitor,
		chain:   chain,
	}
}

// LoadState reads the persisted cookie file into the orchestrator's
// session state. Safe to call with no file configured.
func (o *Orchestrator) LoadState() error {
	if o.conf.CookieFile == "" {
		return nil
	}
	cookies, err := antidetect.LoadCookieFile(o.conf.CookieFile)
	if err != nil {
		return err
	}
	o.cookies = cookies
	o.monitor.Check(cookies)
	logger.WithComponent("Orchestrator").Info().
		Int("cookies", len(cookies)).
		Str("file", o.conf.CookieFile).
		Msg("Loaded persisted session state.")
	return nil
}

// SetCookies replaces the session state directly, bypassing the file.
func (o *Orchestrator) SetCookies(cookies []types.Cookie) {
	o.cookies = cookies
	o.monitor.Check(cookies)
}

// Fetch runs the chain for one request and returns the first successful
// result. When every strategy skips or fails, the returned error names
// each attempt.
func (o *Orchestrator) Fetch(ctx context.Context, req Request) (*Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	l := logger.WithComponent("Orchestrator")

	ex := Exchange{Cookies: o.cookies}
	if token, ok := o.monitor.Token(o.cookies); ok {
		ex.SessionToken = token
	}

	attempts := make([]Attempt, 0, len(o.chain))
	for _, s := range o.chain {
		if o.conf.Pin != "" && string(s.Source()) != o.conf.Pin {
			attempts = append(attempts, Attempt{
				Source: s.Source(), Outcome: OutcomeSkipped,
				Reason: "another strategy is pinned",
			})
			continue
		}
		if ok, reason := s.Ready(req, ex); !ok {
			l.Debug().Str("request", req.ID).Str("strategy", string(s.Source())).
				Str("reason", reason).Msg("Strategy skipped.")
			attempts = append(attempts, Attempt{
				Source: s.Source(), Outcome: OutcomeSkipped, Reason: reason,
			})
			continue
		}

		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		ex.ProxyURL = o.pickProxy(ctx)

		l.Info().Str("request", req.ID).Str("strategy", string(s.Source())).
			Str("proxy", ex.ProxyURL).Msg("Trying strategy.")
		at := s.Execute(ctx, req, ex)
		attempts = append(attempts, at)

		switch at.Outcome {
		case OutcomeSucceeded:
			o.limiter.RecordSuccess()
			if ex.ProxyURL != "" && o.pool != nil {
				o.pool.RecordSuccess(ex.ProxyURL)
			}
			l.Info().Str("request", req.ID).Str("strategy", string(s.Source())).
				Int("bytes", len(at.Result.Body)).Msg("Content extracted.")
			return at.Result, nil

		case OutcomeFailed:
			l.Warn().Str("request", req.ID).Str("strategy", string(s.Source())).
				Str("reason", at.Reason).Msg("Strategy failed.")
			if at.Block.Blocked() {
				if err := o.handleBlock(ctx, req, at.Block, ex.ProxyURL); err != nil {
					return nil, err
				}
			} else if ex.ProxyURL != "" && o.pool != nil {
				o.pool.RecordFailure(ex.ProxyURL)
			}
		}
	}

	return nil, &ExhaustedError{RequestID: req.ID, Attempts: attempts}
}

// pickProxy selects an egress proxy for the next attempt, or empty for a
// direct connection.
func (o *Orchestrator) pickProxy(ctx context.Context) string {
	if !o.conf.UseProxyPool || o.pool == nil {
		return ""
	}
	r, ok := o.pool.GetBest(ctx)
	if !ok {
		logger.WithComponent("Orchestrator").Warn().Err(ErrProxyExhausted).Msg("Falling back to a direct connection.")
		return ""
	}
	return r.URL
}

// handleBlock applies the recovery recommendation of a block
// classification before the chain moves to the next strategy. Returns an
// error only on context cancellation.
func (o *Orchestrator) handleBlock(ctx context.Context, req Request, st antidetect.Status, proxyURL string) error {
	l := logger.WithComponent("Orchestrator")

	if st.RotateProxy && proxyURL != "" && o.pool != nil {
		o.pool.RecordBlock(proxyURL)
	}

	switch st.Kind {
	case antidetect.KindCaptcha:
		o.limiter.RecordBlock()
		return o.solveCaptcha(ctx, req)
	case antidetect.KindIPBanned:
		o.limiter.RecordBlock()
	case antidetect.KindRateLimited:
		o.limiter.RecordRateLimit()
	case antidetect.KindSessionExpired:
		l.Warn().Str("request", req.ID).Msg("Session expired, re-authentication needed.")
		return nil
	}

	if st.Wait && st.WaitSeconds > 0 {
		return o.sleep(ctx, time.Duration(st.WaitSeconds*float64(time.Second)))
	}
	return nil
}

// solveCaptcha attempts an automated solve, falling back to a bounded
// wait that gives a human time to clear the challenge in the browser.
func (o *Orchestrator) solveCaptcha(ctx context.Context, req Request) error {
	l := logger.WithComponent("Orchestrator")

	if o.solver.Name() != "null" {
		sol := o.solver.Solve(ctx, captcha.Challenge{
			Type:    captcha.TypeCustom,
			SiteURL: req.PageURL,
		})
		if sol.Success {
			l.Info().Str("request", req.ID).Msg("CAPTCHA solved automatically.")
			return nil
		}
		l.Warn().Str("request", req.ID).Str("cause", sol.Err).Err(ErrCaptchaUnsolved).Msg("Automated CAPTCHA solve failed.")
	}

	wait := time.Duration(o.conf.CaptchaWaitSeconds) * time.Second
	l.Warn().Str("request", req.ID).Dur("wait", wait).
		Msg("CAPTCHA requires manual attention, pausing.")
	return o.sleep(ctx, wait)
}

// sleep waits for d, capped at the configured maximum, honoring ctx.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if limit := time.Duration(o.conf.MaxBlockWaitSeconds) * time.Second; limit > 0 && d > limit {
		d = limit
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
