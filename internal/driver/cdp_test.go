package driver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrapegate/internal/shared/types"
)

// fakeBrowser serves the DevTools discovery endpoint and a scripted page
// target that answers the commands the driver issues.
func fakeBrowser(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/page"
		fmt.Fprintf(w, `[{"type":"background_page","webSocketDebuggerUrl":""},
			{"type":"page","url":"about:blank","webSocketDebuggerUrl":%q}]`, wsURL)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			var msg struct {
				ID     int64          `json:"id"`
				Method string         `json:"method"`
				Params map[string]any `json:"params"`
			}
			if err := c.ReadJSON(&msg); err != nil {
				return
			}
			reply := func(result string) {
				c.WriteMessage(websocket.TextMessage,
					[]byte(fmt.Sprintf(`{"id":%d,"result":%s}`, msg.ID, result)))
			}
			event := func(body string) {
				c.WriteMessage(websocket.TextMessage, []byte(body))
			}

			switch msg.Method {
			case "Page.enable", "Network.enable":
				reply(`{}`)
			case "Page.navigate":
				reply(`{"frameId":"F1"}`)
				event(`{"method":"Network.responseReceived","params":{"requestId":"r1",
					"response":{"url":"https://www.zhihu.com/api/v4/answers?limit=5","status":200,"mimeType":"application/json"}}}`)
				event(`{"method":"Network.responseReceived","params":{"requestId":"r2",
					"response":{"url":"https://cdn.example.com/app.js","status":200,"mimeType":"text/javascript"}}}`)
				event(`{"method":"Page.loadEventFired","params":{}}`)
			case "Runtime.evaluate":
				expr, _ := msg.Params["expression"].(string)
				switch {
				case strings.Contains(expr, "location.href"):
					reply(`{"result":{"type":"string","value":"https://www.zhihu.com/question/1"}}`)
				case strings.Contains(expr, "innerText"):
					reply(`{"result":{"type":"string","value":"page body text"}}`)
				case strings.Contains(expr, "outerHTML"):
					reply(`{"result":{"type":"string","value":"<html><body>x</body></html>"}}`)
				case strings.Contains(expr, "boom"):
					reply(`{"result":{"type":"object"},"exceptionDetails":{"text":"Uncaught"}}`)
				default:
					reply(`{"result":{"type":"number","value":42}}`)
				}
			case "Network.getCookies":
				reply(`{"cookies":[{"name":"d_c0","value":"\"tok\"","domain":".zhihu.com","path":"/","expires":2000000000}]}`)
			case "Network.getResponseBody":
				id, _ := msg.Params["requestId"].(string)
				if id == "r1" {
					reply(`{"body":"{\"data\":[]}","base64Encoded":false}`)
				} else {
					reply(`{"body":"aGk=","base64Encoded":true}`)
				}
			default:
				reply(`{}`)
			}
		}
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func connect(t *testing.T, srv *httptest.Server) *CDPDriver {
	t.Helper()
	d, err := NewCDP(context.Background(), types.DriverConf{
		DevToolsURL:    srv.URL,
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestCDPNavigateAndEvaluate(t *testing.T) {
	d := connect(t, fakeBrowser(t))
	ctx := context.Background()

	require.NoError(t, d.Navigate(ctx, "https://www.zhihu.com/question/1"))

	url, err := d.PageURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://www.zhihu.com/question/1", url)

	text, err := d.PageText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "page body text", text)

	html, err := d.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "<body>")

	_, err = d.Evaluate(ctx, "boom()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Uncaught")
}

func TestCDPCookies(t *testing.T) {
	d := connect(t, fakeBrowser(t))

	cookies, err := d.Cookies(context.Background())
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "d_c0", cookies[0].Name)
	assert.Equal(t, `"tok"`, cookies[0].Value)
	assert.Equal(t, ".zhihu.com", cookies[0].Domain)
}

func TestCDPInterceptFiltersAndFetchesBodies(t *testing.T) {
	d := connect(t, fakeBrowser(t))

	got, err := d.InterceptResponses(context.Background(),
		"https://www.zhihu.com/question/1", "/api/v4/", 300*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, got, 1, "only matching URLs are captured")
	assert.Contains(t, got[0].URL, "/api/v4/answers")
	assert.Equal(t, 200, got[0].Status)
	assert.JSONEq(t, `{"data":[]}`, string(got[0].Body))
}

func TestCDPDiscoveryNoPageTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	_, err := NewCDP(context.Background(), types.DriverConf{DevToolsURL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no page target")
}
