package antidetect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrapegate/internal/shared/types"
)

func TestSessionCheckMissingCookie(t *testing.T) {
	m := NewSessionHealthMonitor("d_c0")
	require.False(t, m.Check(nil))
	require.False(t, m.Check([]types.Cookie{{Name: "other", Value: "x"}}))

	healthy, at := m.Healthy()
	assert.False(t, healthy)
	assert.False(t, at.IsZero())
}

func TestSessionCheckExpiry(t *testing.T) {
	m := NewSessionHealthMonitor("d_c0")

	past := float64(time.Now().Add(-time.Hour).Unix())
	require.False(t, m.Check([]types.Cookie{{Name: "d_c0", Value: "v", Expires: past}}))

	future := float64(time.Now().Add(time.Hour).Unix())
	require.True(t, m.Check([]types.Cookie{{Name: "d_c0", Value: "v", Expires: future}}))

	// No declared expiry counts as valid.
	require.True(t, m.Check([]types.Cookie{{Name: "d_c0", Value: "v"}}))
}

func TestSessionTokenStripsQuotes(t *testing.T) {
	m := NewSessionHealthMonitor("d_c0")
	tok, ok := m.Token([]types.Cookie{{Name: "d_c0", Value: `"AbCd|123"`}})
	require.True(t, ok)
	assert.Equal(t, "AbCd|123", tok)

	_, ok = m.Token(nil)
	assert.False(t, ok)
}

func TestLoadCookieFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "browser_state.json")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"cookies":[{"name":"d_c0","value":"tok","domain":".example.com","expires":1999999999}]}`), 0o644))

	cookies, err := LoadCookieFile(path)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "d_c0", cookies[0].Name)

	// Missing file is an empty set, not an error.
	cookies, err = LoadCookieFile(filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	assert.Nil(t, cookies)

	// Corrupt file is an error.
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = LoadCookieFile(path)
	assert.Error(t, err)
}
