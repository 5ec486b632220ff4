package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"scrapegate/internal/shared/logger"
)

const freeListUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

// FreeListSource scrapes a public proxy-list page that renders its
// entries as an HTML table with IP and port in the first two columns.
type FreeListSource struct {
	url string
}

// NewFreeListSource creates a scraper for the given list page URL.
func NewFreeListSource(url string) *FreeListSource {
	return &FreeListSource{url: url}
}

func (s *FreeListSource) Name() string { return "free-list" }

// Fetch downloads the page and extracts host:port pairs from table rows.
func (s *FreeListSource) Fetch(ctx context.Context) ([]string, error) {
	l := logger.WithComponent("ProxyPool/Source")

	c := colly.NewCollector(
		colly.UserAgent(freeListUserAgent),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(20 * time.Second)

	var proxies []string

	c.OnHTML("table tbody tr", func(e *colly.HTMLElement) {
		cells := e.DOM.Find("td")
		ip := strings.TrimSpace(cells.Eq(0).Text())
		port := strings.TrimSpace(cells.Eq(1).Text())
		if ip == "" || port == "" {
			return
		}
		proxies = append(proxies, NormalizeProxyURL(ip+":"+port))
	})

	if err := c.Visit(s.url); err != nil {
		return nil, fmt.Errorf("free list scrape %s: %w", s.url, err)
	}
	c.Wait()

	l.Debug().Int("count", len(proxies)).Str("source", s.Name()).Msg("Free list scraped.")
	return proxies, nil
}
