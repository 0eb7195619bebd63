// Package ratelimit implements the multi-tier fixed-window rate limiter with
// progressive per-IP block penalties that fronts the public lookup endpoint.
package ratelimit

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agenticpress/homevalue-gate/internal/clientip"
	"github.com/agenticpress/homevalue-gate/internal/events"
	"github.com/agenticpress/homevalue-gate/internal/transient"
)

// Tier is one rate-limiting window with its own cap and block penalty.
type Tier struct {
	Name    string
	Window  time.Duration
	Max     int64
	Penalty time.Duration
}

// DefaultTiers mirrors the production policy: a minute-tier breach earns a
// short block, a day-tier breach a full day. Order matters — tiers are
// evaluated tightest window first, and the first breached tier wins.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "minute", Window: time.Minute, Max: 3, Penalty: 5 * time.Minute},
		{Name: "hour", Window: time.Hour, Max: 10, Penalty: 30 * time.Minute},
		{Name: "day", Window: 24 * time.Hour, Max: 50, Penalty: 24 * time.Hour},
	}
}

// Result is the limiter's verdict for one request.
type Result struct {
	Allowed bool
	// Tier names the breached tier, or "blocked" when the request hit an
	// existing block flag. Empty when allowed.
	Tier string
	// Count is the counter value at the breached tier.
	Count int64
}

// Limiter evaluates per-IP request counters against the tier policy. All
// shared state lives in the transient store; the limiter itself is stateless
// and safe for concurrent use.
type Limiter struct {
	store    transient.Store
	recorder events.Recorder
	tiers    []Tier
}

func New(store transient.Store, recorder events.Recorder, tiers []Tier) *Limiter {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	return &Limiter{store: store, recorder: recorder, tiers: tiers}
}

// Admit decides whether a request from id.IP may proceed.
//
// A present block flag denies immediately without touching any counter.
// Otherwise each tier is checked in order: an absent counter is created at 1
// with the window's TTL; a counter under its cap is incremented with the TTL
// preserved (fixed-window semantics — a burst straddling a window boundary
// can admit up to twice the nominal cap, which is accepted); a counter at or
// over its cap sets the block flag for the tier's penalty duration and denies.
// Counters for different tiers are independent: the first request from an IP
// creates all three.
func (l *Limiter) Admit(id clientip.Identity) Result {
	if blocked, err := transient.HasFlag(l.store, blockKey(id.IP)); err != nil {
		log.Warn().Err(err).Str("ip", id.IP).Msg("block flag read failed")
	} else if blocked {
		l.recorder.Record(baseEvent(id, events.BlockedIPAttempt))
		return Result{Allowed: false, Tier: "blocked"}
	}

	for _, tier := range l.tiers {
		key := counterKey(tier.Name, id.IP)
		count, ok, err := l.store.Get(key)
		if err != nil {
			log.Warn().Err(err).Str("ip", id.IP).Str("tier", tier.Name).Msg("counter read failed")
			continue
		}
		if !ok {
			if err := l.store.Set(key, 1, tier.Window); err != nil {
				log.Warn().Err(err).Str("ip", id.IP).Str("tier", tier.Name).Msg("counter create failed")
			}
			continue
		}
		if count >= tier.Max {
			if err := transient.SetFlag(l.store, blockKey(id.IP), tier.Penalty); err != nil {
				log.Warn().Err(err).Str("ip", id.IP).Msg("block flag write failed")
			}
			ev := baseEvent(id, events.RateLimitViolation)
			ev.RequestCount = count
			ev.Tier = tier.Name
			l.recorder.Record(ev)
			return Result{Allowed: false, Tier: tier.Name, Count: count}
		}
		if _, err := l.store.Incr(key); err != nil {
			log.Warn().Err(err).Str("ip", id.IP).Str("tier", tier.Name).Msg("counter increment failed")
		}
	}

	return Result{Allowed: true}
}

func baseEvent(id clientip.Identity, typ events.Type) events.Event {
	return events.Event{
		Timestamp:     time.Now().UTC(),
		Type:          typ,
		IP:            id.IP,
		UserAgent:     id.UserAgent,
		Referer:       id.Referer,
		RequestMethod: id.Method,
	}
}

// Keys hash the IP so raw addresses never appear in the shared store.

func blockKey(ip string) string {
	return "homevalue:blocked:" + hashIP(ip)
}

func counterKey(tier, ip string) string {
	return "homevalue:rate:" + tier + ":" + hashIP(ip)
}

func hashIP(ip string) string {
	sum := md5.Sum([]byte(ip))
	return hex.EncodeToString(sum[:])
}
