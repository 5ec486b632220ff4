package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scrapegate/internal/shared/logger"
)

// ProviderSource fetches proxies from a configured HTTP endpoint. It
// tolerates the common provider response shapes: a bare JSON array, an
// object wrapping the list under "data"/"proxies"/"result", or
// newline-delimited plain text with #-comments.
type ProviderSource struct {
	url    string
	client *http.Client
}

// NewProviderSource creates a source for the given endpoint URL.
func NewProviderSource(url string) *ProviderSource {
	return &ProviderSource{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *ProviderSource) Name() string { return "provider-api" }

// Fetch performs one GET against the provider and parses the body.
func (s *ProviderSource) Fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("provider body: %w", err)
	}

	urls := ParseProviderResponse(string(body))
	logger.WithComponent("ProxyPool/Source").Debug().
		Int("count", len(urls)).
		Str("source", s.Name()).
		Msg("Provider list fetched.")
	return urls, nil
}

// ParseProviderResponse turns a provider response body into normalized
// proxy URLs. Entries that cannot be normalized are dropped.
func ParseProviderResponse(text string) []string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		if urls, ok := parseJSONList(text); ok {
			return urls
		}
	}

	// Plain text: one proxy per line.
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if u := NormalizeProxyURL(line); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func parseJSONList(text string) ([]string, bool) {
	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, false
	}

	var entries []any
	switch v := raw.(type) {
	case []any:
		entries = v
	case map[string]any:
		for _, key := range []string{"data", "proxies", "result"} {
			if list, ok := v[key].([]any); ok {
				entries = list
				break
			}
		}
	}
	if entries == nil {
		return nil, false
	}

	var out []string
	for _, e := range entries {
		if u := normalizeEntry(e); u != "" {
			out = append(out, u)
		}
	}
	return out, true
}

// normalizeEntry handles the two entry shapes providers use: a plain
// "host:port" string or an object with host/port/credential fields.
func normalizeEntry(entry any) string {
	switch v := entry.(type) {
	case string:
		return NormalizeProxyURL(v)
	case map[string]any:
		host := firstString(v, "ip", "host")
		port := firstString(v, "port")
		if host == "" || port == "" {
			return ""
		}
		scheme := firstString(v, "scheme", "protocol")
		if scheme == "" {
			scheme = "http"
		}
		user := firstString(v, "user", "username")
		pass := firstString(v, "pass", "password")
		if user != "" && pass != "" {
			return fmt.Sprintf("%s://%s:%s@%s:%s", scheme, user, pass, host, port)
		}
		return fmt.Sprintf("%s://%s:%s", scheme, host, port)
	default:
		return ""
	}
}

// firstString returns the first non-empty string (or stringified number)
// among the given keys.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strings.TrimSuffix(fmt.Sprintf("%v", v), ".0")
		}
	}
	return ""
}

// NormalizeProxyURL ensures a proxy string carries a scheme, defaulting
// to http. Empty input yields empty output.
func NormalizeProxyURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "socks") {
		return s
	}
	return "http://" + s
}
