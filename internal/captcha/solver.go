// Package captcha defines the pluggable CAPTCHA-solving contract: a
// Solver interface, a no-op default, and a submit/poll HTTP provider
// implementation. The variant is chosen once, at construction.
package captcha

import (
	"context"

	"scrapegate/internal/shared/logger"
	"scrapegate/internal/shared/types"
)

// Type enumerates the known challenge kinds.
type Type string

const (
	TypeRecaptchaV2 Type = "recaptcha_v2"
	TypeRecaptchaV3 Type = "recaptcha_v3"
	TypeHCaptcha    Type = "hcaptcha"
	TypeImageText   Type = "image_text"
	TypeSlider      Type = "slider"
	TypeClickSelect Type = "click_select"
	TypeTurnstile   Type = "turnstile"
	TypeCustom      Type = "custom"
)

// Challenge describes one CAPTCHA that needs solving. Transient, one per
// solve attempt.
type Challenge struct {
	Type        Type
	SiteURL     string
	SiteKey     string            // token-based CAPTCHAs
	ImageBase64 string            // OCR challenges
	Extra       map[string]string // provider-specific knobs (e.g. v3 action)
}

// Solution is the result of one solve attempt.
type Solution struct {
	Success     bool
	Token       string // token-based CAPTCHAs
	Text        string // recognised text (OCR)
	Coordinates []int  // click/slider coordinates
	Err         string
}

// Solver is the pluggable solving contract.
type Solver interface {
	// Solve attempts the challenge. May block for the provider's full
	// submit/poll cycle; never call it from a context that cannot
	// tolerate multi-minute stalls.
	Solve(ctx context.Context, ch Challenge) Solution

	// Balance returns the provider account balance when supported.
	Balance(ctx context.Context) (float64, bool)

	// Name identifies the solver in logs and errors.
	Name() string
}

// New returns the configured Solver variant. An empty provider yields the
// no-op solver.
func New(conf types.CaptchaConf) Solver {
	switch conf.Provider {
	case "2captcha":
		return NewTwoCaptcha(conf)
	default:
		return NullSolver{}
	}
}

// NullSolver is the default when no provider is configured: it logs and
// returns failure without blocking.
type NullSolver struct{}

// Solve logs the unsolvable challenge and fails immediately.
func (NullSolver) Solve(_ context.Context, ch Challenge) Solution {
	logger.WithComponent("Captcha").Warn().
		Str("type", string(ch.Type)).
		Str("site", ch.SiteURL).
		Msg("No CAPTCHA solver configured, cannot solve.")
	return Solution{Success: false, Err: "no CAPTCHA solver configured"}
}

// Balance is unsupported.
func (NullSolver) Balance(context.Context) (float64, bool) { return 0, false }

func (NullSolver) Name() string { return "null" }
