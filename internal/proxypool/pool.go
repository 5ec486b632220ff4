// Package proxypool maintains a scored pool of egress proxies with health
// tracking, temporary banning and refresh from external list sources.
package proxypool

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"scrapegate/internal/proxypool/source"
	"scrapegate/internal/shared/logger"
	"scrapegate/internal/shared/types"
)

// Stats is a snapshot of the pool for operator display.
type Stats struct {
	Total     int      `json:"total"`
	Available int      `json:"available"`
	Banned    int      `json:"banned"`
	Top       []Record `json:"top"`
}

// Pool is a thread-safe proxy pool. One mutex guards the record map and
// refresh bookkeeping; sources are fetched outside the lock.
type Pool struct {
	conf    types.ProxyPoolConf
	sources []source.Source

	mu          sync.Mutex
	proxies     map[string]*Record
	lastRefresh time.Time
}

// New creates a pool fed by the given sources. A pool without sources is
// valid: it only ever serves manually added proxies.
func New(conf types.ProxyPoolConf, sources ...source.Source) *Pool {
	return &Pool{
		conf:    conf,
		sources: sources,
		proxies: make(map[string]*Record),
	}
}

// Add inserts a proxy by URL. Re-adding an existing URL is a no-op, so
// health history survives refreshes.
func (p *Pool) Add(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.add(proxyURL)
}

// AddMany inserts several proxies, returning how many were new.
func (p *Pool) AddMany(proxyURLs []string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, u := range proxyURLs {
		if u == "" {
			continue
		}
		if p.add(u) {
			added++
		}
	}
	return added
}

// add inserts one record. Must hold mu.
func (p *Pool) add(proxyURL string) bool {
	if _, exists := p.proxies[proxyURL]; exists {
		return false
	}
	p.proxies[proxyURL] = &Record{URL: proxyURL}
	return true
}

// Refresh pulls fresh proxy lists from every configured source. Source
// failures are logged and skipped; the pool keeps whatever it has.
func (p *Pool) Refresh(ctx context.Context) int {
	l := logger.WithComponent("ProxyPool")
	added := 0
	for _, s := range p.sources {
		urls, err := s.Fetch(ctx)
		if err != nil {
			l.Warn().Err(err).Str("source", s.Name()).Msg("Proxy source fetch failed.")
			continue
		}
		added += p.AddMany(urls)
	}

	p.mu.Lock()
	p.lastRefresh = time.Now()
	total := len(p.proxies)
	p.mu.Unlock()

	l.Info().Int("new", added).Int("total", total).Msg("Proxy pool refreshed.")
	return added
}

// GetBest returns the highest-scoring non-banned proxy, or false when the
// pool has none. Triggers an auto-refresh when the pool runs low or stale.
func (p *Pool) GetBest(ctx context.Context) (Record, bool) {
	p.maybeAutoRefresh(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	available := p.availableLocked(time.Now())
	if len(available) == 0 {
		return Record{}, false
	}

	sort.Slice(available, func(i, j int) bool {
		return available[i].Score() > available[j].Score()
	})
	best := available[0]
	best.LastUsed = time.Now()
	return *best, true
}

// GetRandom returns a non-banned proxy picked by score-weighted sampling.
// Zero-score proxies keep a floor weight so they stay reachable.
func (p *Pool) GetRandom(ctx context.Context) (Record, bool) {
	p.maybeAutoRefresh(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	available := p.availableLocked(time.Now())
	if len(available) == 0 {
		return Record{}, false
	}

	weights := make([]float64, len(available))
	total := 0.0
	for i, r := range available {
		w := r.Score()
		if w < 0.01 {
			w = 0.01
		}
		weights[i] = w
		total += w
	}

	pick := rand.Float64() * total
	cumulative := 0.0
	for i, r := range available {
		cumulative += weights[i]
		if pick <= cumulative {
			r.LastUsed = time.Now()
			return *r, true
		}
	}

	last := available[len(available)-1]
	last.LastUsed = time.Now()
	return *last, true
}

// RecordSuccess notes a successful request through a proxy.
func (p *Pool) RecordSuccess(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.proxies[proxyURL]; ok {
		r.Successes++
	}
}

// RecordFailure notes a failed request. Three or more failures with a
// score below 0.3 earn a temporary ban.
func (p *Pool) RecordFailure(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.proxies[proxyURL]
	if !ok {
		return
	}
	r.Failures++
	if r.Failures >= 3 && r.Score() < 0.3 {
		r.BannedUntil = time.Now().Add(p.banDuration())
		logger.WithComponent("ProxyPool").Info().
			Str("proxy", proxyURL).
			Dur("ban", p.banDuration()).
			Msg("Proxy banned after repeated failures.")
	}
}

// RecordBlock notes a detected block through a proxy: immediate ban for
// twice the normal duration, unconditionally.
func (p *Pool) RecordBlock(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.proxies[proxyURL]
	if !ok {
		return
	}
	r.Blocks++
	r.BannedUntil = time.Now().Add(2 * p.banDuration())
	logger.WithComponent("ProxyPool").Warn().
		Str("proxy", proxyURL).
		Msg("Proxy blocked and banned.")
}

// Size returns the total number of known proxies.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Stats returns a snapshot: counts plus the top records by score.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	st := Stats{Total: len(p.proxies)}
	all := make([]*Record, 0, len(p.proxies))
	for _, r := range p.proxies {
		all = append(all, r)
		if r.Banned(now) {
			st.Banned++
		} else {
			st.Available++
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Score() > all[j].Score() })
	if len(all) > 20 {
		all = all[:20]
	}
	for _, r := range all {
		st.Top = append(st.Top, *r)
	}
	return st
}

// availableLocked returns the live records not currently banned. Must
// hold mu.
func (p *Pool) availableLocked(now time.Time) []*Record {
	out := make([]*Record, 0, len(p.proxies))
	for _, r := range p.proxies {
		if !r.Banned(now) {
			out = append(out, r)
		}
	}
	return out
}

// maybeAutoRefresh refreshes when the available count dips below the
// configured floor or the last refresh has gone stale.
func (p *Pool) maybeAutoRefresh(ctx context.Context) {
	if len(p.sources) == 0 {
		return
	}

	p.mu.Lock()
	now := time.Now()
	available := len(p.availableLocked(now))
	stale := now.Sub(p.lastRefresh) > time.Duration(p.conf.RefreshIntervalSeconds)*time.Second
	p.mu.Unlock()

	if available < p.conf.MinPoolSize || stale {
		p.Refresh(ctx)
	}
}

func (p *Pool) banDuration() time.Duration {
	return time.Duration(p.conf.BanDurationSeconds) * time.Second
}
