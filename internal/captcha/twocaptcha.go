package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scrapegate/internal/shared/logger"
	"scrapegate/internal/shared/types"
)

// notReadySentinel is the provider's "poll again later" answer.
const notReadySentinel = "CAPCHA_NOT_READY"

// TwoCaptcha implements the 2captcha.com submit-then-poll protocol.
// Compatible endpoints (rucaptcha etc.) work by overriding the API URL.
type TwoCaptcha struct {
	apiKey       string
	apiURL       string
	timeout      time.Duration
	pollInterval time.Duration
	client       *http.Client
}

// NewTwoCaptcha creates the provider client from config.
func NewTwoCaptcha(conf types.CaptchaConf) *TwoCaptcha {
	if conf.PollIntervalSeconds <= 0 {
		conf.PollIntervalSeconds = 5.0
	}
	if conf.TimeoutSeconds <= 0 {
		conf.TimeoutSeconds = 120
	}
	return &TwoCaptcha{
		apiKey:       conf.APIKey,
		apiURL:       strings.TrimSuffix(conf.APIURL, "/"),
		timeout:      time.Duration(conf.TimeoutSeconds) * time.Second,
		pollInterval: time.Duration(conf.PollIntervalSeconds * float64(time.Second)),
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *TwoCaptcha) Name() string { return "2captcha" }

// apiResponse is the provider's JSON envelope: status 1 means Request
// holds the payload, status 0 means it holds an error or the not-ready
// sentinel.
type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the challenge and polls until a solution, a terminal
// error, the provider timeout, or context cancellation.
func (t *TwoCaptcha) Solve(ctx context.Context, ch Challenge) Solution {
	taskID, err := t.submit(ctx, ch)
	if err != nil {
		logger.WithComponent("Captcha").Error().Err(err).Msg("CAPTCHA submit failed.")
		return Solution{Success: false, Err: err.Error()}
	}
	return t.poll(ctx, taskID, ch.Type)
}

// Balance queries the provider account balance.
func (t *TwoCaptcha) Balance(ctx context.Context) (float64, bool) {
	params := url.Values{}
	params.Set("key", t.apiKey)
	params.Set("action", "getbalance")
	params.Set("json", "1")

	resp, err := t.getRes(ctx, params)
	if err != nil || resp.Status != 1 {
		return 0, false
	}
	var balance float64
	if _, err := fmt.Sscanf(resp.Request, "%f", &balance); err != nil {
		return 0, false
	}
	return balance, true
}

// submit posts the challenge, returning the provider task id.
func (t *TwoCaptcha) submit(ctx context.Context, ch Challenge) (string, error) {
	params := url.Values{}
	params.Set("key", t.apiKey)
	params.Set("json", "1")

	switch ch.Type {
	case TypeRecaptchaV2, TypeRecaptchaV3:
		params.Set("method", "userrecaptcha")
		params.Set("googlekey", ch.SiteKey)
		params.Set("pageurl", ch.SiteURL)
		if ch.Type == TypeRecaptchaV3 {
			params.Set("version", "v3")
			action := ch.Extra["action"]
			if action == "" {
				action = "verify"
			}
			params.Set("action", action)
		}
	case TypeHCaptcha:
		params.Set("method", "hcaptcha")
		params.Set("sitekey", ch.SiteKey)
		params.Set("pageurl", ch.SiteURL)
	case TypeTurnstile:
		params.Set("method", "turnstile")
		params.Set("sitekey", ch.SiteKey)
		params.Set("pageurl", ch.SiteURL)
	case TypeImageText:
		params.Set("method", "base64")
		params.Set("body", ch.ImageBase64)
	default:
		return "", fmt.Errorf("challenge type %q not supported by %s", ch.Type, t.Name())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.apiURL+"/in.php", strings.NewReader(params.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	defer httpResp.Body.Close()

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("submit decode: %w", err)
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("submit rejected: %s", resp.Request)
	}
	return resp.Request, nil
}

// poll repeats at the configured interval until success, a terminal
// error other than the not-ready sentinel, or the timeout. The deadline
// is armed as a timer so a poll in flight cannot overshoot it by a full
// interval.
func (t *TwoCaptcha) poll(ctx context.Context, taskID string, chType Type) Solution {
	deadline := time.NewTimer(t.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Solution{Success: false, Err: ctx.Err().Error()}
		case <-deadline.C:
			return Solution{Success: false, Err: "timeout waiting for solution"}
		case <-ticker.C:
		}

		params := url.Values{}
		params.Set("key", t.apiKey)
		params.Set("action", "get")
		params.Set("id", taskID)
		params.Set("json", "1")

		resp, err := t.getRes(ctx, params)
		if err != nil {
			return Solution{Success: false, Err: err.Error()}
		}

		if resp.Status == 1 {
			if chType == TypeImageText {
				return Solution{Success: true, Text: resp.Request}
			}
			return Solution{Success: true, Token: resp.Request}
		}
		if resp.Request != notReadySentinel {
			return Solution{Success: false, Err: resp.Request}
		}
	}
}

func (t *TwoCaptcha) getRes(ctx context.Context, params url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.apiURL+"/res.php?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer httpResp.Body.Close()

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("poll decode: %w", err)
	}
	return &resp, nil
}
