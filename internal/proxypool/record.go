package proxypool

import "time"

// Record tracks one egress proxy's health history. Owned exclusively by
// the Pool; callers only ever see value copies.
type Record struct {
	URL         string    `json:"url"`
	Successes   uint64    `json:"successes"`
	Failures    uint64    `json:"failures"`
	Blocks      uint64    `json:"blocks"`
	LastUsed    time.Time `json:"last_used"`
	BannedUntil time.Time `json:"banned_until"`
}

// Score derives a 0..1 health metric from the counters. Unused proxies
// score a neutral 0.5 to encourage trial; blocks are penalised harder
// than plain failures.
func (r *Record) Score() float64 {
	total := r.Successes + r.Failures + r.Blocks
	if total == 0 {
		return 0.5
	}
	score := float64(r.Successes)/float64(total) - 0.2*float64(r.Blocks)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Banned reports whether the record is inside a ban window.
func (r *Record) Banned(now time.Time) bool {
	return now.Before(r.BannedUntil)
}
