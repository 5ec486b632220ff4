package driver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scrapegate/internal/shared/logger"
	"scrapegate/internal/shared/types"
)

// cdpMessage is the DevTools wire envelope, both directions.
type cdpMessage struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CDPDriver drives an already-running browser over the DevTools protocol.
// One instance owns one page target. Safe for concurrent use, though the
// strategies call it sequentially.
type CDPDriver struct {
	conn    *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan cdpMessage
	subs    map[int64]chan cdpMessage
	nextSub int64

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
}

// devToolsTarget is one entry of the browser's /json/list answer.
type devToolsTarget struct {
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// NewCDP connects to the browser's DevTools HTTP endpoint and attaches to
// the first page target.
func NewCDP(ctx context.Context, conf types.DriverConf) (*CDPDriver, error) {
	wsURL, err := discoverPageTarget(ctx, conf.DevToolsURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("devtools dial %s: %w", wsURL, err)
	}

	d := &CDPDriver{
		conn:    conn,
		timeout: time.Duration(conf.TimeoutSeconds) * time.Second,
		pending: make(map[int64]chan cdpMessage),
		subs:    make(map[int64]chan cdpMessage),
		done:    make(chan struct{}),
	}
	go d.readLoop()

	if _, err := d.call(ctx, "Page.enable", nil); err != nil {
		d.Close()
		return nil, err
	}
	logger.WithComponent("Driver").Info().Str("target", wsURL).Msg("Attached to browser page.")
	return d, nil
}

// discoverPageTarget resolves the page websocket URL from the DevTools
// HTTP endpoint. A ws:// URL is taken as a target directly.
func discoverPageTarget(ctx context.Context, devToolsURL string) (string, error) {
	if strings.HasPrefix(devToolsURL, "ws://") || strings.HasPrefix(devToolsURL, "wss://") {
		return devToolsURL, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(devToolsURL, "/")+"/json/list", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("devtools discovery: %w", err)
	}
	defer resp.Body.Close()

	var targets []devToolsTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("devtools discovery decode: %w", err)
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("no page target at %s", devToolsURL)
}

// readLoop dispatches inbound messages: replies go to their waiting caller,
// events fan out to subscribers.
func (d *CDPDriver) readLoop() {
	for {
		var msg cdpMessage
		if err := d.conn.ReadJSON(&msg); err != nil {
			d.mu.Lock()
			d.readErr = err
			for id, ch := range d.pending {
				close(ch)
				delete(d.pending, id)
			}
			d.mu.Unlock()
			d.closeOnce.Do(func() { close(d.done) })
			return
		}

		d.mu.Lock()
		if msg.ID != 0 {
			if ch, ok := d.pending[msg.ID]; ok {
				ch <- msg
				delete(d.pending, msg.ID)
			}
		} else {
			for _, ch := range d.subs {
				select {
				case ch <- msg:
				default: // slow subscriber drops events rather than stalling the loop
				}
			}
		}
		d.mu.Unlock()
	}
}

// call sends one command and waits for its reply.
func (d *CDPDriver) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	d.mu.Lock()
	if d.readErr != nil {
		err := d.readErr
		d.mu.Unlock()
		return nil, fmt.Errorf("devtools connection lost: %w", err)
	}
	d.nextID++
	id := d.nextID
	ch := make(chan cdpMessage, 1)
	d.pending[id] = ch
	d.mu.Unlock()

	d.writeMu.Lock()
	err := d.conn.WriteJSON(cdpMessage{ID: id, Method: method, Params: raw})
	d.writeMu.Unlock()
	if err != nil {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		return nil, fmt.Errorf("devtools send %s: %w", method, err)
	}

	timeout := d.timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("devtools connection closed during %s", method)
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("devtools %s: %s (code %d)", method, msg.Error.Message, msg.Error.Code)
		}
		return msg.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("devtools %s: timeout", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// subscribe registers an event channel. The returned cancel must be called.
func (d *CDPDriver) subscribe() (<-chan cdpMessage, func()) {
	ch := make(chan cdpMessage, 64)
	d.mu.Lock()
	d.nextSub++
	id := d.nextSub
	d.subs[id] = ch
	d.mu.Unlock()
	return ch, func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// Navigate loads the URL and waits for Page.loadEventFired.
func (d *CDPDriver) Navigate(ctx context.Context, url string) error {
	events, cancel := d.subscribe()
	defer cancel()

	if _, err := d.call(ctx, "Page.navigate", map[string]string{"url": url}); err != nil {
		return err
	}

	timeout := d.timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-events:
			if msg.Method == "Page.loadEventFired" {
				return nil
			}
		case <-timer.C:
			// Heavy pages can miss the load event; the DOM is usually
			// usable anyway, so report success after the grace period.
			logger.WithComponent("Driver").Warn().Str("url", url).Msg("Load event not observed before timeout.")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// evalResult is Runtime.evaluate's answer shape with returnByValue.
type evalResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails"`
}

// Evaluate runs the expression and returns its JSON value.
func (d *CDPDriver) Evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	raw, err := d.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
	})
	if err != nil {
		return nil, err
	}
	var res evalResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("evaluate decode: %w", err)
	}
	if res.ExceptionDetails != nil {
		return nil, fmt.Errorf("evaluate: %s", res.ExceptionDetails.Text)
	}
	return res.Result.Value, nil
}

// evaluateString runs an expression expected to yield a string.
func (d *CDPDriver) evaluateString(ctx context.Context, expr string) (string, error) {
	raw, err := d.Evaluate(ctx, expr)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("expected string result: %w", err)
	}
	return s, nil
}

func (d *CDPDriver) PageURL(ctx context.Context) (string, error) {
	return d.evaluateString(ctx, "window.location.href")
}

func (d *CDPDriver) PageText(ctx context.Context) (string, error) {
	return d.evaluateString(ctx, "document.body ? document.body.innerText : ''")
}

func (d *CDPDriver) HTML(ctx context.Context) (string, error) {
	return d.evaluateString(ctx, "document.documentElement.outerHTML")
}

// cdpCookie is Network.getCookies' entry shape.
type cdpCookie struct {
	Name    string  `json:"name"`
	Value   string  `json:"value"`
	Domain  string  `json:"domain"`
	Path    string  `json:"path"`
	Expires float64 `json:"expires"`
}

// Cookies returns the browser cookie jar.
func (d *CDPDriver) Cookies(ctx context.Context) ([]types.Cookie, error) {
	raw, err := d.call(ctx, "Network.getCookies", nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		Cookies []cdpCookie `json:"cookies"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("cookies decode: %w", err)
	}
	out := make([]types.Cookie, 0, len(res.Cookies))
	for _, c := range res.Cookies {
		out = append(out, types.Cookie{
			Name: c.Name, Value: c.Value,
			Domain: c.Domain, Path: c.Path, Expires: c.Expires,
		})
	}
	return out, nil
}

// responseReceivedParams is the slice of Network.responseReceived we need.
type responseReceivedParams struct {
	RequestID string `json:"requestId"`
	Response  struct {
		URL      string `json:"url"`
		Status   int    `json:"status"`
		MimeType string `json:"mimeType"`
	} `json:"response"`
}

// InterceptResponses navigates to the URL while capturing responses whose
// URL contains match. Bodies are fetched after the collection window so
// the browser has finished streaming them.
func (d *CDPDriver) InterceptResponses(ctx context.Context, url, match string, window time.Duration) ([]InterceptedResponse, error) {
	if _, err := d.call(ctx, "Network.enable", nil); err != nil {
		return nil, err
	}

	events, cancel := d.subscribe()
	defer cancel()

	if _, err := d.call(ctx, "Page.navigate", map[string]string{"url": url}); err != nil {
		return nil, err
	}

	type hit struct {
		requestID string
		resp      InterceptedResponse
	}
	var hits []hit

	timer := time.NewTimer(window)
	defer timer.Stop()
collect:
	for {
		select {
		case msg := <-events:
			if msg.Method != "Network.responseReceived" {
				continue
			}
			var p responseReceivedParams
			if err := json.Unmarshal(msg.Params, &p); err != nil {
				continue
			}
			if match != "" && !strings.Contains(p.Response.URL, match) {
				continue
			}
			hits = append(hits, hit{
				requestID: p.RequestID,
				resp: InterceptedResponse{
					URL:      p.Response.URL,
					Status:   p.Response.Status,
					MimeType: p.Response.MimeType,
				},
			})
		case <-timer.C:
			break collect
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([]InterceptedResponse, 0, len(hits))
	for _, h := range hits {
		raw, err := d.call(ctx, "Network.getResponseBody", map[string]string{"requestId": h.requestID})
		if err != nil {
			// Bodies of redirected or evicted responses are gone; skip.
			logger.WithComponent("Driver").Debug().Str("url", h.resp.URL).Err(err).Msg("Response body unavailable.")
			continue
		}
		var body struct {
			Body          string `json:"body"`
			Base64Encoded bool   `json:"base64Encoded"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			continue
		}
		if body.Base64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(body.Body)
			if err != nil {
				continue
			}
			h.resp.Body = decoded
		} else {
			h.resp.Body = []byte(body.Body)
		}
		out = append(out, h.resp)
	}
	return out, nil
}

// Close tears down the websocket.
func (d *CDPDriver) Close() error {
	err := d.conn.Close()
	d.closeOnce.Do(func() { close(d.done) })
	return err
}
