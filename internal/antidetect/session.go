package antidetect

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"scrapegate/internal/shared/logger"
	"scrapegate/internal/shared/types"
)

// SessionHealthMonitor checks a cookie set for the named session token
// cookie. The last result is cached for inspection but Check always
// recomputes.
type SessionHealthMonitor struct {
	cookieName string

	mu        sync.Mutex
	healthy   bool
	lastCheck time.Time
}

// NewSessionHealthMonitor watches for the given session cookie name.
func NewSessionHealthMonitor(cookieName string) *SessionHealthMonitor {
	return &SessionHealthMonitor{cookieName: cookieName}
}

// Check reports whether the session token cookie is present and, when it
// declares a positive expiry, not yet expired.
func (m *SessionHealthMonitor) Check(cookies []types.Cookie) bool {
	l := logger.WithComponent("AntiDetect/Session")

	healthy := false
	for _, c := range cookies {
		if c.Name != m.cookieName {
			continue
		}
		if c.Expires > 0 && c.Expires < float64(time.Now().Unix()) {
			l.Warn().Str("cookie", m.cookieName).Msg("Session cookie expired.")
			break
		}
		healthy = true
		break
	}
	if !healthy {
		l.Warn().Str("cookie", m.cookieName).Msg("Session cookie missing or expired.")
	}

	m.mu.Lock()
	m.healthy = healthy
	m.lastCheck = time.Now()
	m.mu.Unlock()
	return healthy
}

// Token extracts the raw session token value from the cookie set, with
// surrounding quotes stripped the way the signing plaintext expects it.
func (m *SessionHealthMonitor) Token(cookies []types.Cookie) (string, bool) {
	for _, c := range cookies {
		if c.Name == m.cookieName {
			return strings.Trim(c.Value, `"`), true
		}
	}
	return "", false
}

// Healthy returns the cached result of the last Check and its timestamp.
func (m *SessionHealthMonitor) Healthy() (bool, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy, m.lastCheck
}

// stateFile matches the persisted browser state shape the automation
// driver writes ({"cookies":[{name,value,domain,path,expires}]}).
type stateFile struct {
	Cookies []types.Cookie `json:"cookies"`
}

// LoadCookieFile reads a persisted browser-state file into a cookie set.
// A missing file yields an empty set, not an error: absence of cookies is
// a normal degraded state handled by the strategies.
func LoadCookieFile(path string) ([]types.Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cookie file %s: %w", path, err)
	}
	return state.Cookies, nil
}
