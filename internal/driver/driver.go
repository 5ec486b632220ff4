// Package driver abstracts a running browser for the DOM-backed fallback
// strategies. The production implementation speaks the DevTools protocol
// over a websocket; tests substitute fakes.
package driver

import (
	"context"
	"encoding/json"
	"time"

	"scrapegate/internal/shared/types"
)

// InterceptedResponse is one network response captured while a page loaded.
type InterceptedResponse struct {
	URL      string
	Status   int
	MimeType string
	Body     []byte
}

// AutomationDriver is the browser contract the strategies depend on.
type AutomationDriver interface {
	// Navigate loads the URL and waits for the page load event.
	Navigate(ctx context.Context, url string) error

	// PageURL returns the current location, after any redirects.
	PageURL(ctx context.Context) (string, error)

	// PageText returns the visible text of the current page.
	PageText(ctx context.Context) (string, error)

	// HTML returns the serialized DOM of the current page.
	HTML(ctx context.Context) (string, error)

	// Evaluate runs a JavaScript expression and returns its JSON value.
	Evaluate(ctx context.Context, expr string) (json.RawMessage, error)

	// Cookies returns the browser's cookie jar for the current page.
	Cookies(ctx context.Context) ([]types.Cookie, error)

	// InterceptResponses navigates to the URL and captures responses whose
	// URL contains match, collecting for the given window.
	InterceptResponses(ctx context.Context, url, match string, window time.Duration) ([]InterceptedResponse, error)

	// Close releases the browser connection.
	Close() error
}
