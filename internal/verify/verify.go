// Package verify implements the ordered human-verification pipeline: CAPTCHA
// scoring, honeypot, submission timing, user-agent and header heuristics, and
// fingerprint repetition. Each layer is a pure check returning a tagged
// denial; the pipeline short-circuits on the first failure and records
// exactly one security event per denial.
package verify

import (
	"context"
	"time"

	"github.com/agenticpress/homevalue-gate/internal/clientip"
	"github.com/agenticpress/homevalue-gate/internal/events"
)

// Request carries everything the pipeline inspects: the resolved identity
// plus the anti-bot form fields.
type Request struct {
	Identity clientip.Identity

	// Honeypot is the "website" form field. Invisible to humans; any
	// non-empty value marks an automated submission.
	Honeypot string

	// FormTimestamp is the Unix-seconds render time stamped into the form.
	// Zero means the field was missing.
	FormTimestamp int64

	// CaptchaToken is the g-recaptcha-response form field.
	CaptchaToken string

	// Now is the evaluation time for the timing check. Zero means time.Now;
	// tests inject a fixed instant.
	Now time.Time
}

func (r *Request) now() time.Time {
	if r.Now.IsZero() {
		return time.Now()
	}
	return r.Now
}

// Denial is returned by a check when the request fails its layer.
type Denial struct {
	Reason events.Type
	Extra  map[string]any
	// Count is set by counter-backed checks (fingerprint repetition) and
	// lands in the event's request_count column.
	Count int64
}

// Check evaluates one verification layer. Returns nil to pass.
// Checks do not log; the pipeline owns event recording.
type Check func(ctx context.Context, r *Request) *Denial

// Pipeline chains checks in order and records one event per denial.
type Pipeline struct {
	checks   []Check
	recorder events.Recorder
}

func NewPipeline(recorder events.Recorder, checks ...Check) *Pipeline {
	return &Pipeline{checks: checks, recorder: recorder}
}

// Verify runs every check in order and returns the first Denial, or nil when
// all layers pass. The denial's event is recorded before returning.
func (p *Pipeline) Verify(ctx context.Context, r *Request) *Denial {
	for _, check := range p.checks {
		d := check(ctx, r)
		if d == nil {
			continue
		}
		ev := events.Event{
			Timestamp:     time.Now().UTC(),
			Type:          d.Reason,
			IP:            r.Identity.IP,
			RequestCount:  d.Count,
			UserAgent:     r.Identity.UserAgent,
			Referer:       r.Identity.Referer,
			RequestMethod: r.Identity.Method,
			Extra:         d.Extra,
		}
		p.recorder.Record(ev)
		return d
	}
	return nil
}
