// Package apiclient issues signed requests against the protected JSON API.
// Every request carries the signature header pair; responses come back with
// a block classification already attached so callers never inspect raw
// status codes themselves.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"scrapegate/internal/antidetect"
	"scrapegate/internal/shared/logger"
	"scrapegate/internal/shared/types"
	"scrapegate/internal/signature"
)

// maxBodyBytes caps how much of a response body is read into memory.
const maxBodyBytes = 8 << 20

// Response is one API answer with its block classification.
type Response struct {
	StatusCode int
	Body       []byte
	Block      antidetect.Status
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode API response: %w", err)
	}
	return nil
}

// RequestOptions carries the per-request inputs the caller controls.
type RequestOptions struct {
	SessionToken string // signing token, also sent as the session cookie
	ExtraToken   string // secondary signing token, usually empty
	ProxyURL     string // empty = direct connection
	Cookies      []types.Cookie
}

// Client is the signed API caller. Safe for concurrent use; it keeps one
// HTTP client per egress path so proxy rotation does not rebuild transports
// on every request.
type Client struct {
	conf     types.ClientConf
	signer   *signature.Signer
	detector *antidetect.Detector

	mu      sync.Mutex
	clients map[string]*http.Client
}

// New creates a Client from config.
func New(conf types.ClientConf, signer *signature.Signer, detector *antidetect.Detector) *Client {
	return &Client{
		conf:     conf,
		signer:   signer,
		detector: detector,
		clients:  make(map[string]*http.Client),
	}
}

// Get issues a signed GET for the given API path (path plus query, no
// host). The response is returned for any HTTP status; only transport
// failures surface as errors.
func (c *Client) Get(ctx context.Context, apiPath string, opts RequestOptions) (*Response, error) {
	l := logger.WithComponent("APIClient")

	version := signature.VersionNew
	if c.conf.SignatureVersion == "old" {
		version = signature.VersionOld
	}
	sig := c.signer.Sign(signature.Context{
		VersionTag:   c.conf.VersionTag,
		APIPath:      apiPath,
		SessionToken: opts.SessionToken,
		ExtraToken:   opts.ExtraToken,
	}, version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(c.conf.BaseURL, "/")+apiPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.conf.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(signature.HeaderVersion, c.conf.VersionTag)
	req.Header.Set(signature.HeaderSignature, sig)

	for _, ck := range opts.Cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}
	if opts.SessionToken != "" && !hasCookie(opts.Cookies, c.conf.SessionCookie) {
		req.AddCookie(&http.Cookie{Name: c.conf.SessionCookie, Value: opts.SessionToken})
	}

	httpClient, err := c.clientFor(opts.ProxyURL)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", apiPath, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Block:      c.detector.ClassifyAPI(httpResp.StatusCode, body),
	}

	ev := l.Debug().
		Str("path", apiPath).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start))
	if resp.Block.Blocked() {
		ev = l.Warn().
			Str("path", apiPath).
			Int("status", resp.StatusCode).
			Str("block", resp.Block.Kind.String())
	}
	ev.Msg("API request finished.")

	return resp, nil
}

// clientFor returns the cached HTTP client for the given egress path,
// building it on first use.
func (c *Client) clientFor(proxyURL string) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[proxyURL]; ok {
		return hc, nil
	}

	tr, err := newTransport(proxyURL, c.conf.TLSFingerprint)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{
		Transport: tr,
		Timeout:   time.Duration(c.conf.TimeoutSeconds) * time.Second,
	}
	c.clients[proxyURL] = hc
	return hc, nil
}

func hasCookie(cookies []types.Cookie, name string) bool {
	for _, ck := range cookies {
		if ck.Name == name {
			return true
		}
	}
	return false
}
