package verify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticpress/homevalue-gate/internal/captcha"
	"github.com/agenticpress/homevalue-gate/internal/events"
	"github.com/agenticpress/homevalue-gate/internal/transient"
)

func browserRequest() *Request {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &Request{
		Identity: clientIdentity("203.0.113.1", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36", h),
		// Rendered 30 seconds before submission: comfortably human.
		FormTimestamp: now.Add(-30 * time.Second).Unix(),
		Now:           now,
	}
}

func TestHoneypot(t *testing.T) {
	check := Honeypot()

	r := browserRequest()
	assert.Nil(t, check(context.Background(), r))

	r.Honeypot = "https://spam.example"
	d := check(context.Background(), r)
	require.NotNil(t, d)
	assert.Equal(t, events.HoneypotTriggered, d.Reason)
	assert.Equal(t, "https://spam.example", d.Extra["honeypot_value"])
}

func TestTiming(t *testing.T) {
	check := Timing(3*time.Second, time.Hour)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		stamp   int64
		expects events.Type
	}{
		{"missing timestamp", 0, events.MissingTimestamp},
		{"instant submit", now.Unix(), events.FormSubmittedTooQuickly},
		{"two seconds", now.Add(-2 * time.Second).Unix(), events.FormSubmittedTooQuickly},
		{"exactly three seconds", now.Add(-3 * time.Second).Unix(), ""},
		{"thirty seconds", now.Add(-30 * time.Second).Unix(), ""},
		{"exactly one hour", now.Add(-time.Hour).Unix(), ""},
		{"stale form", now.Add(-time.Hour - time.Second).Unix(), events.FormSubmittedTooLate},
		{"clock skew future stamp", now.Add(time.Minute).Unix(), events.FormSubmittedTooQuickly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := browserRequest()
			r.FormTimestamp = tt.stamp
			r.Now = now
			d := check(context.Background(), r)
			if tt.expects == "" {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.expects, d.Reason)
		})
	}
}

func TestUserAgent(t *testing.T) {
	check := UserAgent()

	tests := []struct {
		name    string
		ua      string
		expects events.Type
	}{
		{"real browser", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36", ""},
		{"empty", "", events.MissingUserAgent},
		{"curl", "curl/8.4.0", events.BotUserAgent},
		{"python requests", "python-requests/2.31", events.BotUserAgent},
		{"headless chrome", "Mozilla/5.0 HeadlessChrome/120.0", events.BotUserAgent},
		{"case insensitive", "My-CRAWLER-thing/1.0 something", events.BotUserAgent},
		{"postman", "PostmanRuntime/7.36.0", events.BotUserAgent},
		{"too short", "Mozilla/5", events.SuspiciousUserAgentLength},
		{"too long", "Mozilla/5.0 " + strings.Repeat("x", 500), events.SuspiciousUserAgentLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := browserRequest()
			r.Identity.UserAgent = tt.ua
			d := check(context.Background(), r)
			if tt.expects == "" {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.expects, d.Reason)
		})
	}
}

// A bot signature outranks the length heuristic: "bot" inside a 3-character
// agent is reported as bot_user_agent, not a length violation.
func TestUserAgent_SignatureBeforeLength(t *testing.T) {
	r := browserRequest()
	r.Identity.UserAgent = "bot"
	d := UserAgent()(context.Background(), r)
	require.NotNil(t, d)
	assert.Equal(t, events.BotUserAgent, d.Reason)
}

func TestBrowserHeaders(t *testing.T) {
	check := BrowserHeaders()

	t.Run("full browser headers pass", func(t *testing.T) {
		assert.Nil(t, check(context.Background(), browserRequest()))
	})

	t.Run("wildcard accept passes", func(t *testing.T) {
		r := browserRequest()
		r.Identity.Headers.Set("Accept", "*/*")
		assert.Nil(t, check(context.Background(), r))
	})

	t.Run("missing accept", func(t *testing.T) {
		r := browserRequest()
		r.Identity.Headers.Del("Accept")
		d := check(context.Background(), r)
		require.NotNil(t, d)
		assert.Equal(t, events.MissingBrowserHeader, d.Reason)
		assert.Equal(t, "Accept", d.Extra["header"])
	})

	t.Run("missing accept-language", func(t *testing.T) {
		r := browserRequest()
		r.Identity.Headers.Del("Accept-Language")
		d := check(context.Background(), r)
		require.NotNil(t, d)
		assert.Equal(t, events.MissingBrowserHeader, d.Reason)
		assert.Equal(t, "Accept-Language", d.Extra["header"])
	})

	t.Run("json-only accept rejected", func(t *testing.T) {
		r := browserRequest()
		r.Identity.Headers.Set("Accept", "application/json")
		d := check(context.Background(), r)
		require.NotNil(t, d)
		assert.Equal(t, events.SuspiciousAcceptHeader, d.Reason)
	})
}

type fakeVerifier struct {
	verdict *captcha.Verdict
	err     error
	calls   int
}

func (f *fakeVerifier) Verify(ctx context.Context, token, remoteIP string) (*captcha.Verdict, error) {
	f.calls++
	return f.verdict, f.err
}

func TestCaptcha(t *testing.T) {
	const secret = "test-secret"

	t.Run("passing score", func(t *testing.T) {
		v := &fakeVerifier{verdict: &captcha.Verdict{Success: true, Score: 0.9}}
		r := browserRequest()
		r.CaptchaToken = "tok"
		assert.Nil(t, Captcha(v, secret, 0.5)(context.Background(), r))
		assert.Equal(t, 1, v.calls)
	})

	t.Run("missing secret fails closed without calling upstream", func(t *testing.T) {
		v := &fakeVerifier{}
		r := browserRequest()
		r.CaptchaToken = "tok"
		d := Captcha(v, "", 0.5)(context.Background(), r)
		require.NotNil(t, d)
		assert.Equal(t, events.RecaptchaFailed, d.Reason)
		assert.Equal(t, []string{"missing-input-secret"}, d.Extra["errors"])
		assert.Zero(t, v.calls)
	})

	t.Run("missing token fails closed", func(t *testing.T) {
		v := &fakeVerifier{}
		d := Captcha(v, secret, 0.5)(context.Background(), browserRequest())
		require.NotNil(t, d)
		assert.Equal(t, events.RecaptchaFailed, d.Reason)
		assert.Equal(t, []string{"missing-input-response"}, d.Extra["errors"])
		assert.Zero(t, v.calls)
	})

	t.Run("transport error fails closed", func(t *testing.T) {
		v := &fakeVerifier{err: errors.New("dial tcp: connection refused")}
		r := browserRequest()
		r.CaptchaToken = "tok"
		d := Captcha(v, secret, 0.5)(context.Background(), r)
		require.NotNil(t, d)
		assert.Equal(t, events.RecaptchaError, d.Reason)
	})

	t.Run("unsuccessful verification", func(t *testing.T) {
		v := &fakeVerifier{verdict: &captcha.Verdict{Success: false, ErrorCodes: []string{"invalid-input-response"}}}
		r := browserRequest()
		r.CaptchaToken = "tok"
		d := Captcha(v, secret, 0.5)(context.Background(), r)
		require.NotNil(t, d)
		assert.Equal(t, events.RecaptchaFailed, d.Reason)
		assert.Equal(t, []string{"invalid-input-response"}, d.Extra["errors"])
	})

	t.Run("low score", func(t *testing.T) {
		v := &fakeVerifier{verdict: &captcha.Verdict{Success: true, Score: 0.2}}
		r := browserRequest()
		r.CaptchaToken = "tok"
		d := Captcha(v, secret, 0.5)(context.Background(), r)
		require.NotNil(t, d)
		assert.Equal(t, events.RecaptchaLowScore, d.Reason)
		assert.Equal(t, 0.2, d.Extra["score"])
	})

	t.Run("score at threshold passes", func(t *testing.T) {
		v := &fakeVerifier{verdict: &captcha.Verdict{Success: true, Score: 0.5}}
		r := browserRequest()
		r.CaptchaToken = "tok"
		assert.Nil(t, Captcha(v, secret, 0.5)(context.Background(), r))
	})
}

func TestFingerprint(t *testing.T) {
	store := transient.NewMemStore()
	check := Fingerprint(store)

	// Three identical requests pass, the fourth is denied. Only the identical
	// shape is capped: a different user agent is a different fingerprint.
	for i := 0; i < 3; i++ {
		assert.Nil(t, check(context.Background(), browserRequest()), "repeat %d should pass", i+1)
	}

	d := check(context.Background(), browserRequest())
	require.NotNil(t, d)
	assert.Equal(t, events.FingerprintAbuse, d.Reason)
	assert.Equal(t, int64(3), d.Count)

	other := browserRequest()
	other.Identity.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
	assert.Nil(t, check(context.Background(), other))
}

func TestFingerprint_StoreErrorPasses(t *testing.T) {
	check := Fingerprint(failingStore{})
	assert.Nil(t, check(context.Background(), browserRequest()),
		"store trouble must not deny the client")
}

type failingStore struct{}

func (failingStore) Get(string) (int64, bool, error)        { return 0, false, errors.New("store down") }
func (failingStore) Set(string, int64, time.Duration) error { return errors.New("store down") }
func (failingStore) Incr(string) (int64, error)             { return 0, errors.New("store down") }
