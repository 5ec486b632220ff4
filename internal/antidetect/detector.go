// Package antidetect classifies server responses into block conditions and
// watches session cookie health. Classification is a total function: every
// input maps to exactly one Status, and anything ambiguous is treated
// optimistically as no block.
package antidetect

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind enumerates the block taxonomy.
type Kind int

const (
	KindNone Kind = iota
	KindCaptcha
	KindRateLimited
	KindIPBanned
	KindSessionExpired
	// KindUnknown is reserved for explicitly ambiguous session-health
	// checks; routine classification never produces it.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCaptcha:
		return "captcha"
	case KindRateLimited:
		return "rate_limited"
	case KindIPBanned:
		return "ip_banned"
	case KindSessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// Status is a classification result with recovery recommendations.
// Produced fresh per inspected response, never mutated.
type Status struct {
	Kind        Kind
	Message     string
	RotateProxy bool
	Wait        bool
	WaitSeconds float64
	NotifyUser  bool
}

// Blocked reports whether the response carried any block signal.
func (s Status) Blocked() bool { return s.Kind != KindNone }

// Detection pattern tables, lifted from the production site's observed
// behaviour. First match wins.
var (
	captchaURLPatterns  = []string{"unhuman", "captcha", "/account/unhuman"}
	loginURLPatterns    = []string{"/signin", "/signup", "passport."}
	captchaTextPatterns = []string{"验证码", "请完成验证", "安全验证"}
	rateTextPatterns    = []string{"操作太频繁", "请求太多", "请稍后再试", "频率过高"}
	banTextPatterns     = []string{"访问受限", "IP 被封", "禁止访问", "403 Forbidden"}
)

// Detector classifies page and API responses. Stateless.
type Detector struct{}

// NewDetector returns a Detector.
func NewDetector() *Detector { return &Detector{} }

// ClassifyPage inspects a rendered page's URL and visible text.
func (d *Detector) ClassifyPage(url, bodyText string) Status {
	for _, p := range captchaURLPatterns {
		if strings.Contains(url, p) {
			return Status{
				Kind:       KindCaptcha,
				Message:    fmt.Sprintf("CAPTCHA detected in URL: %s", url),
				NotifyUser: true,
				Wait:       true,
				// user must solve manually, no fixed wait
			}
		}
	}

	for _, p := range loginURLPatterns {
		if strings.Contains(url, p) {
			return Status{
				Kind:       KindSessionExpired,
				Message:    "Redirected to login page, session expired",
				NotifyUser: true,
			}
		}
	}

	for _, p := range captchaTextPatterns {
		if strings.Contains(bodyText, p) {
			return Status{
				Kind:       KindCaptcha,
				Message:    fmt.Sprintf("CAPTCHA text detected: %s", p),
				NotifyUser: true,
				Wait:       true,
			}
		}
	}

	for _, p := range rateTextPatterns {
		if strings.Contains(bodyText, p) {
			return Status{
				Kind:        KindRateLimited,
				Message:     fmt.Sprintf("Rate limit text detected: %s", p),
				RotateProxy: true,
				Wait:        true,
				WaitSeconds: 30.0,
			}
		}
	}

	for _, p := range banTextPatterns {
		if strings.Contains(bodyText, p) {
			return Status{
				Kind:        KindIPBanned,
				Message:     fmt.Sprintf("IP ban text detected: %s", p),
				RotateProxy: true,
				Wait:        true,
				WaitSeconds: 120.0,
			}
		}
	}

	return Status{}
}

// apiError is the error envelope some API responses carry.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ClassifyAPI inspects an API response's HTTP status and optional JSON body.
func (d *Detector) ClassifyAPI(statusCode int, body []byte) Status {
	if statusCode == 429 {
		return Status{
			Kind:        KindRateLimited,
			Message:     "HTTP 429 Too Many Requests",
			RotateProxy: true,
			Wait:        true,
			WaitSeconds: 30.0,
		}
	}

	var parsed apiError
	if len(body) > 0 {
		// Unparseable bodies are treated as absent.
		_ = json.Unmarshal(body, &parsed)
	}
	errMsg := parsed.Error.Message

	if statusCode == 403 {
		lower := strings.ToLower(errMsg)
		if strings.Contains(lower, "banned") || strings.Contains(lower, "forbidden") {
			return Status{
				Kind:        KindIPBanned,
				Message:     fmt.Sprintf("HTTP 403 Forbidden: %s", errMsg),
				RotateProxy: true,
				Wait:        true,
				WaitSeconds: 120.0,
			}
		}
		return Status{
			Kind:        KindIPBanned,
			Message:     "HTTP 403 Forbidden",
			RotateProxy: true,
			Wait:        true,
			WaitSeconds: 60.0,
		}
	}

	if statusCode == 401 {
		return Status{
			Kind:       KindSessionExpired,
			Message:    "HTTP 401 Unauthorized",
			NotifyUser: true,
		}
	}

	if errMsg != "" || parsed.Error.Code != 0 {
		if parsed.Error.Code == 40354 || strings.Contains(errMsg, "UnAuthorized") {
			return Status{
				Kind:       KindSessionExpired,
				Message:    fmt.Sprintf("API auth error: %s", errMsg),
				NotifyUser: true,
			}
		}
		lower := strings.ToLower(errMsg)
		if strings.Contains(lower, "rate") || strings.Contains(errMsg, "频繁") ||
			strings.Contains(lower, "verification") || strings.Contains(errMsg, "验证") {
			return Status{
				Kind:        KindRateLimited,
				Message:     fmt.Sprintf("API error suggests throttling: %s", errMsg),
				RotateProxy: true,
				Wait:        true,
				WaitSeconds: 30.0,
			}
		}
	}

	return Status{}
}
