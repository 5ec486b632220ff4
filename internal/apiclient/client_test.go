package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrapegate/internal/antidetect"
	"scrapegate/internal/shared/types"
	"scrapegate/internal/signature"
)

func testClient(baseURL string) *Client {
	conf := types.ClientConf{
		BaseURL:          baseURL,
		VersionTag:       "101_3_3.0",
		SignatureVersion: "new",
		SessionCookie:    "d_c0",
		UserAgent:        "test-agent",
		TimeoutSeconds:   5,
	}
	return New(conf, signature.New(), antidetect.NewDetector())
}

func TestGetSendsSignatureHeaders(t *testing.T) {
	var seen *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(r.Context())
		fmt.Fprint(w, `{"data":[{"id":1}]}`)
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Get(context.Background(),
		"/api/v4/questions/1/answers?limit=5",
		RequestOptions{SessionToken: "tok123"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.False(t, resp.Block.Blocked())

	require.NotNil(t, seen)
	assert.Equal(t, "101_3_3.0", seen.Header.Get(signature.HeaderVersion))

	sig := seen.Header.Get(signature.HeaderSignature)
	assert.True(t, strings.HasPrefix(sig, "2.0_"))
	assert.Len(t, sig, 68)

	ck, err := seen.Cookie("d_c0")
	require.NoError(t, err)
	assert.Equal(t, "tok123", ck.Value)
	assert.Equal(t, "test-agent", seen.Header.Get("User-Agent"))
	assert.Equal(t, "/api/v4/questions/1/answers", seen.URL.Path)
	assert.Equal(t, "limit=5", seen.URL.RawQuery)
}

func TestGetExplicitCookiesWinOverToken(t *testing.T) {
	var cookies []*http.Cookie
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies = r.Cookies()
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Get(context.Background(), "/api/v4/me", RequestOptions{
		SessionToken: "tok123",
		Cookies: []types.Cookie{
			{Name: "d_c0", Value: "from-state"},
			{Name: "z_c0", Value: "auth"},
		},
	})
	require.NoError(t, err)

	var dc0 []string
	for _, ck := range cookies {
		if ck.Name == "d_c0" {
			dc0 = append(dc0, ck.Value)
		}
	}
	require.Equal(t, []string{"from-state"}, dc0, "the session cookie must not be sent twice")
}

func TestGetClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Get(context.Background(), "/api/v4/x", RequestOptions{})
	require.NoError(t, err, "blocked responses are data, not errors")
	assert.Equal(t, antidetect.KindRateLimited, resp.Block.Kind)
	assert.True(t, resp.Block.RotateProxy)
}

func TestGetClassifiesSessionExpiredBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":40354,"message":"token expired"}}`)
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Get(context.Background(), "/api/v4/x", RequestOptions{SessionToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, antidetect.KindSessionExpired, resp.Block.Kind)
}

func TestDecodeJSON(t *testing.T) {
	resp := &Response{Body: []byte(`{"paging":{"is_end":true},"data":[{"id":7}]}`)}

	var out struct {
		Paging struct {
			IsEnd bool `json:"is_end"`
		} `json:"paging"`
		Data []struct {
			ID int `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, resp.DecodeJSON(&out))
	assert.True(t, out.Paging.IsEnd)
	require.Len(t, out.Data, 1)
	assert.Equal(t, 7, out.Data[0].ID)

	bad := &Response{Body: []byte(`<html>`)}
	assert.Error(t, bad.DecodeJSON(&out))
}

func TestClientForCachesPerProxy(t *testing.T) {
	c := testClient("https://example.com")

	direct1, err := c.clientFor("")
	require.NoError(t, err)
	direct2, err := c.clientFor("")
	require.NoError(t, err)
	assert.Same(t, direct1, direct2)

	proxied, err := c.clientFor("http://127.0.0.1:8080")
	require.NoError(t, err)
	assert.NotSame(t, direct1, proxied)

	_, err = c.clientFor("://bad")
	assert.Error(t, err)
}
