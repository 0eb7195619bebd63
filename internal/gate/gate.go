// Package gate composes the rate limiter and the human-verification pipeline
// into the single ALLOW/DENY decision consumed by the lookup handler.
package gate

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agenticpress/homevalue-gate/internal/events"
	"github.com/agenticpress/homevalue-gate/internal/metrics"
	"github.com/agenticpress/homevalue-gate/internal/ratelimit"
	"github.com/agenticpress/homevalue-gate/internal/transient"
	"github.com/agenticpress/homevalue-gate/internal/verify"
)

// Settings is the gate's read-only security configuration.
type Settings struct {
	CaptchaEnabled     bool
	CaptchaSecretKey   string
	CaptchaThreshold   float64
	AdvancedProtection bool
	MinFormTime        time.Duration
	MaxFormTime        time.Duration
	Tiers              []ratelimit.Tier
}

// DefaultSettings matches the shipped policy: no CAPTCHA until keys are
// configured, advanced heuristics on.
func DefaultSettings() Settings {
	return Settings{
		CaptchaThreshold:   0.5,
		AdvancedProtection: true,
		MinFormTime:        3 * time.Second,
		MaxFormTime:        time.Hour,
		Tiers:              ratelimit.DefaultTiers(),
	}
}

// Decision is the gate's verdict. When Allow is false the handler must stop
// and return HTTPStatus/Message without calling the valuation API.
type Decision struct {
	Allow      bool
	HTTPStatus int
	Message    string
}

const (
	rateLimitedMessage = "Too many requests. Please wait before trying again."
	notHumanMessage    = "Automated requests are not allowed."
)

// Gate is the admission decision point for the public lookup endpoint.
type Gate struct {
	limiter  *ratelimit.Limiter
	pipeline *verify.Pipeline
}

// New wires the limiter and verification pipeline from settings. The rate
// limiter runs first so already-blocked IPs never pay for a CAPTCHA round
// trip; checks inside the pipeline are likewise ordered cheap-to-expensive.
func New(store transient.Store, recorder events.Recorder, captchaClient verify.Verifier, s Settings) *Gate {
	checks := make([]verify.Check, 0, 6)
	if s.CaptchaEnabled {
		checks = append(checks, verify.Captcha(captchaClient, s.CaptchaSecretKey, s.CaptchaThreshold))
	}
	checks = append(checks,
		verify.Honeypot(),
		verify.Timing(s.MinFormTime, s.MaxFormTime),
	)
	if s.AdvancedProtection {
		checks = append(checks,
			verify.UserAgent(),
			verify.BrowserHeaders(),
			verify.Fingerprint(store),
		)
	}

	return &Gate{
		limiter:  ratelimit.New(store, recorder, s.Tiers),
		pipeline: verify.NewPipeline(recorder, checks...),
	}
}

// Admit evaluates the request. Rate limiting is decided first and is final;
// the verification pipeline only runs for requests under their limits.
func (g *Gate) Admit(ctx context.Context, r *verify.Request) Decision {
	if res := g.limiter.Admit(r.Identity); !res.Allowed {
		reason := "rate_limit_" + res.Tier
		metrics.RequestsDenied.WithLabelValues(reason).Inc()
		log.Info().
			Str("ip", r.Identity.IP).
			Str("tier", res.Tier).
			Int64("count", res.Count).
			Msg("request rate limited")
		return Decision{
			Allow:      false,
			HTTPStatus: http.StatusTooManyRequests,
			Message:    rateLimitedMessage,
		}
	}

	if d := g.pipeline.Verify(ctx, r); d != nil {
		metrics.RequestsDenied.WithLabelValues(string(d.Reason)).Inc()
		log.Info().
			Str("ip", r.Identity.IP).
			Str("reason", string(d.Reason)).
			Msg("request failed human verification")
		return Decision{
			Allow:      false,
			HTTPStatus: http.StatusForbidden,
			Message:    notHumanMessage,
		}
	}

	metrics.RequestsAdmitted.Inc()
	return Decision{Allow: true, HTTPStatus: http.StatusOK}
}
