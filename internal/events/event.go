// Package events defines the append-only security audit trail written by the
// admission gate. Recording is fire-and-forget: a failed write must never
// block or alter an admission decision.
package events

import "time"

// Type identifies the denial or anomaly that produced an event.
type Type string

const (
	BlockedIPAttempt          Type = "blocked_ip_attempt"
	RateLimitViolation        Type = "rate_limit_violation"
	RecaptchaError            Type = "recaptcha_error"
	RecaptchaFailed           Type = "recaptcha_failed"
	RecaptchaLowScore         Type = "recaptcha_low_score"
	HoneypotTriggered         Type = "honeypot_triggered"
	MissingTimestamp          Type = "missing_timestamp"
	FormSubmittedTooQuickly   Type = "form_submitted_too_quickly"
	FormSubmittedTooLate      Type = "form_submitted_too_late"
	MissingUserAgent          Type = "missing_user_agent"
	BotUserAgent              Type = "bot_user_agent"
	SuspiciousUserAgentLength Type = "suspicious_user_agent_length"
	MissingBrowserHeader      Type = "missing_browser_header"
	SuspiciousAcceptHeader    Type = "suspicious_accept_header"
	FingerprintAbuse          Type = "fingerprint_abuse"
)

// Event is one security log record. The schema is flat; Extra carries
// event-specific fields (CAPTCHA score, violating pattern, honeypot value).
type Event struct {
	Timestamp     time.Time      `json:"timestamp"`
	Type          Type           `json:"event_type"`
	IP            string         `json:"ip_address"`
	RequestCount  int64          `json:"request_count,omitempty"`
	Tier          string         `json:"tier,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	Referer       string         `json:"referer,omitempty"`
	RequestMethod string         `json:"request_method,omitempty"`
	Extra         map[string]any `json:"additional_data,omitempty"`
}

// Recorder appends events to a durable sink. Implementations must swallow
// write failures (log them, don't return them) so the hot path never stalls.
type Recorder interface {
	Record(ev Event)
}

// Nop is a Recorder that discards every event.
type Nop struct{}

func (Nop) Record(Event) {}
