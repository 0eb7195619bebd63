package verify

import (
	"context"
	"strings"
	"time"

	"github.com/agenticpress/homevalue-gate/internal/captcha"
	"github.com/agenticpress/homevalue-gate/internal/events"
	"github.com/agenticpress/homevalue-gate/internal/fingerprint"
	"github.com/agenticpress/homevalue-gate/internal/transient"
)

// Verifier is the slice of the captcha client the CAPTCHA check needs.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (*captcha.Verdict, error)
}

// Captcha returns the CAPTCHA scoring check. Every failure mode is closed:
// a missing secret or token, a transport error, an unsuccessful verification
// and a score under threshold all deny. An unreachable verification service
// must not become a bypass.
func Captcha(client Verifier, secretKey string, threshold float64) Check {
	return func(ctx context.Context, r *Request) *Denial {
		if secretKey == "" || r.CaptchaToken == "" {
			code := "missing-input-response"
			if secretKey == "" {
				code = "missing-input-secret"
			}
			return &Denial{
				Reason: events.RecaptchaFailed,
				Extra:  map[string]any{"errors": []string{code}},
			}
		}

		v, err := client.Verify(ctx, r.CaptchaToken, r.Identity.IP)
		if err != nil {
			return &Denial{
				Reason: events.RecaptchaError,
				Extra:  map[string]any{"error": err.Error()},
			}
		}
		if !v.Success {
			return &Denial{
				Reason: events.RecaptchaFailed,
				Extra:  map[string]any{"errors": v.ErrorCodes},
			}
		}
		if v.Score < threshold {
			return &Denial{
				Reason: events.RecaptchaLowScore,
				Extra:  map[string]any{"score": v.Score, "threshold": threshold},
			}
		}
		return nil
	}
}

// Honeypot rejects any request that filled the invisible "website" field.
func Honeypot() Check {
	return func(ctx context.Context, r *Request) *Denial {
		if r.Honeypot == "" {
			return nil
		}
		return &Denial{
			Reason: events.HoneypotTriggered,
			Extra:  map[string]any{"honeypot_value": r.Honeypot},
		}
	}
}

// Timing rejects submissions faster than any human could complete the form
// and stale or replayed submissions past maxAge.
func Timing(minAge, maxAge time.Duration) Check {
	return func(ctx context.Context, r *Request) *Denial {
		if r.FormTimestamp == 0 {
			return &Denial{Reason: events.MissingTimestamp}
		}
		elapsed := r.now().Unix() - r.FormTimestamp
		if elapsed < int64(minAge.Seconds()) {
			return &Denial{
				Reason: events.FormSubmittedTooQuickly,
				Extra:  map[string]any{"time_diff": elapsed},
			}
		}
		if elapsed > int64(maxAge.Seconds()) {
			return &Denial{
				Reason: events.FormSubmittedTooLate,
				Extra:  map[string]any{"time_diff": elapsed},
			}
		}
		return nil
	}
}

// botSignatures are substrings that mark automation tooling. Matched
// case-insensitively against the full user agent.
var botSignatures = []string{
	"curl", "wget", "python", "bot", "spider", "crawler", "scraper",
	"postman", "insomnia", "automated", "phantom", "selenium", "headless",
	"puppeteer", "playwright", "requests", "urllib", "httpie", "apache-httpclient",
}

const (
	minUserAgentLen = 10
	maxUserAgentLen = 500
)

// UserAgent rejects empty, automation-flavoured and implausibly sized user
// agents.
func UserAgent() Check {
	return func(ctx context.Context, r *Request) *Denial {
		ua := r.Identity.UserAgent
		if ua == "" {
			return &Denial{Reason: events.MissingUserAgent}
		}
		lower := strings.ToLower(ua)
		for _, sig := range botSignatures {
			if strings.Contains(lower, sig) {
				return &Denial{
					Reason: events.BotUserAgent,
					Extra:  map[string]any{"user_agent": ua, "pattern": sig},
				}
			}
		}
		if len(ua) < minUserAgentLen || len(ua) > maxUserAgentLen {
			return &Denial{
				Reason: events.SuspiciousUserAgentLength,
				Extra:  map[string]any{"user_agent": ua, "length": len(ua)},
			}
		}
		return nil
	}
}

// BrowserHeaders rejects requests missing headers every real browser sends,
// and Accept values no browser form submission would carry.
func BrowserHeaders() Check {
	return func(ctx context.Context, r *Request) *Denial {
		for _, name := range []string{"Accept", "Accept-Language"} {
			if r.Identity.Headers.Get(name) == "" {
				return &Denial{
					Reason: events.MissingBrowserHeader,
					Extra:  map[string]any{"header": name},
				}
			}
		}
		accept := r.Identity.Headers.Get("Accept")
		if !strings.Contains(accept, "text/html") && !strings.Contains(accept, "*/*") {
			return &Denial{
				Reason: events.SuspiciousAcceptHeader,
				Extra:  map[string]any{"accept": accept},
			}
		}
		return nil
	}
}

const (
	fingerprintWindow = 5 * time.Minute
	fingerprintMax    = 3
)

// Fingerprint caps how often an identical request shape may repeat within a
// five-minute window, independent of the per-IP tiers. It deliberately never
// sets the IP block flag: the fingerprint is scoped to the full identity
// tuple, and escalating it to a blanket IP ban would overblock.
func Fingerprint(store transient.Store) Check {
	return func(ctx context.Context, r *Request) *Denial {
		fp := fingerprint.Generate(r.Identity)
		key := "homevalue:fingerprint:" + fp
		count, ok, err := store.Get(key)
		if err != nil {
			// Store trouble is not the client's fault; let the layer pass
			// and leave enforcement to the IP tiers.
			return nil
		}
		if !ok {
			_ = store.Set(key, 1, fingerprintWindow)
			return nil
		}
		if count >= fingerprintMax {
			return &Denial{
				Reason: events.FingerprintAbuse,
				Extra:  map[string]any{"fingerprint": fp, "count": count},
				Count:  count,
			}
		}
		_, _ = store.Incr(key)
		return nil
	}
}
