package captcha

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrapegate/internal/shared/types"
)

func testTwoCaptcha(apiURL string) *TwoCaptcha {
	return NewTwoCaptcha(types.CaptchaConf{
		Provider:            "2captcha",
		APIKey:              "k",
		APIURL:              apiURL,
		TimeoutSeconds:      2,
		PollIntervalSeconds: 0.01,
	})
}

func TestNullSolverNeverBlocks(t *testing.T) {
	s := New(types.CaptchaConf{})
	require.Equal(t, "null", s.Name())

	sol := s.Solve(context.Background(), Challenge{Type: TypeRecaptchaV2, SiteURL: "https://x"})
	assert.False(t, sol.Success)
	assert.NotEmpty(t, sol.Err)

	_, ok := s.Balance(context.Background())
	assert.False(t, ok)
}

func TestFactorySelectsProvider(t *testing.T) {
	s := New(types.CaptchaConf{Provider: "2captcha", APIKey: "k", APIURL: "https://2captcha.com"})
	assert.Equal(t, "2captcha", s.Name())
}

func TestSolveSubmitThenPoll(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/in.php":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "userrecaptcha", r.Form.Get("method"))
			assert.Equal(t, "sitekey123", r.Form.Get("googlekey"))
			fmt.Fprint(w, `{"status":1,"request":"task42"}`)
		case "/res.php":
			assert.Equal(t, "task42", r.URL.Query().Get("id"))
			if atomic.AddInt32(&polls, 1) < 3 {
				fmt.Fprint(w, `{"status":0,"request":"CAPCHA_NOT_READY"}`)
				return
			}
			fmt.Fprint(w, `{"status":1,"request":"solved-token"}`)
		}
	}))
	defer srv.Close()

	sol := testTwoCaptcha(srv.URL).Solve(context.Background(), Challenge{
		Type:    TypeRecaptchaV2,
		SiteURL: "https://example.com",
		SiteKey: "sitekey123",
	})
	require.True(t, sol.Success)
	assert.Equal(t, "solved-token", sol.Token)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestSolveImageReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			fmt.Fprint(w, `{"status":1,"request":"t1"}`)
			return
		}
		fmt.Fprint(w, `{"status":1,"request":"W0RD"}`)
	}))
	defer srv.Close()

	sol := testTwoCaptcha(srv.URL).Solve(context.Background(), Challenge{
		Type:        TypeImageText,
		ImageBase64: "aGVsbG8=",
	})
	require.True(t, sol.Success)
	assert.Equal(t, "W0RD", sol.Text)
	assert.Empty(t, sol.Token)
}

func TestSolveTerminalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			fmt.Fprint(w, `{"status":1,"request":"t1"}`)
			return
		}
		fmt.Fprint(w, `{"status":0,"request":"ERROR_CAPTCHA_UNSOLVABLE"}`)
	}))
	defer srv.Close()

	sol := testTwoCaptcha(srv.URL).Solve(context.Background(), Challenge{
		Type: TypeHCaptcha, SiteKey: "k", SiteURL: "https://x",
	})
	require.False(t, sol.Success)
	assert.Equal(t, "ERROR_CAPTCHA_UNSOLVABLE", sol.Err)
}

func TestSolveSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":0,"request":"ERROR_WRONG_USER_KEY"}`)
	}))
	defer srv.Close()

	sol := testTwoCaptcha(srv.URL).Solve(context.Background(), Challenge{
		Type: TypeTurnstile, SiteKey: "k", SiteURL: "https://x",
	})
	require.False(t, sol.Success)
	assert.Contains(t, sol.Err, "ERROR_WRONG_USER_KEY")
}

func TestSolvePollTimeoutIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			fmt.Fprint(w, `{"status":1,"request":"t1"}`)
			return
		}
		fmt.Fprint(w, `{"status":0,"request":"CAPCHA_NOT_READY"}`)
	}))
	defer srv.Close()

	tc := testTwoCaptcha(srv.URL)
	tc.timeout = 80 * time.Millisecond
	tc.pollInterval = 30 * time.Millisecond

	start := time.Now()
	sol := tc.Solve(context.Background(), Challenge{
		Type: TypeHCaptcha, SiteKey: "k", SiteURL: "https://x",
	})
	elapsed := time.Since(start)

	require.False(t, sol.Success)
	assert.Contains(t, sol.Err, "timeout")
	// The deadline must cut the poll loop off, not let a further whole
	// interval elapse first.
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestSolveUnsupportedType(t *testing.T) {
	sol := testTwoCaptcha("http://unused").Solve(context.Background(), Challenge{Type: TypeSlider})
	require.False(t, sol.Success)
	assert.Contains(t, sol.Err, "not supported")
}

func TestBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "getbalance", r.URL.Query().Get("action"))
		fmt.Fprint(w, `{"status":1,"request":"12.34"}`)
	}))
	defer srv.Close()

	balance, ok := testTwoCaptcha(srv.URL).Balance(context.Background())
	require.True(t, ok)
	assert.InDelta(t, 12.34, balance, 0.001)
}
