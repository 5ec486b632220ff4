// Package source provides proxy list sources for the pool: a configured
// HTTP provider endpoint and free-list page scrapers. Sources only fetch
// and normalize; health tracking lives in the pool.
package source

import "context"

// Source fetches a batch of proxy URLs, each already normalized to
// scheme://[user:pass@]host:port form.
type Source interface {
	Fetch(ctx context.Context) ([]string, error)

	// Name identifies the source in logs.
	Name() string
}
