// Package captcha verifies reCAPTCHA v3 tokens against Google's siteverify
// endpoint. The caller applies the score threshold; this package only talks
// to the API.
package captcha

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agenticpress/homevalue-gate/internal/metrics"
)

const (
	defaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	verifyTimeout    = 10 * time.Second
	maxBodyBytes     = 4096
)

// ClientConfig holds configuration for the siteverify client.
type ClientConfig struct {
	SecretKey string
	VerifyURL string // Override for testing
}

// Verdict is the parsed siteverify response.
type Verdict struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// Client calls the reCAPTCHA verification API.
type Client struct {
	secretKey  string
	verifyURL  string
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	verifyURL := cfg.VerifyURL
	if verifyURL == "" {
		verifyURL = defaultVerifyURL
	}
	return &Client{
		secretKey: cfg.SecretKey,
		verifyURL: verifyURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
}

// Verify submits token for scoring. remoteIP is forwarded so Google can
// correlate the token with the submitting client. A transport failure is
// returned as an error; the gate treats it as a denial (fail closed), never
// as a bypass.
func (c *Client) Verify(ctx context.Context, token, remoteIP string) (*Verdict, error) {
	form := url.Values{
		"secret":   {c.secretKey},
		"response": {token},
		"remoteip": {remoteIP},
	}

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("captcha: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			metrics.UpstreamErrors.WithLabelValues("recaptcha", "timeout").Inc()
			return nil, fmt.Errorf("captcha: verify timed out: %w", err)
		}
		metrics.UpstreamErrors.WithLabelValues("recaptcha", "network").Inc()
		return nil, fmt.Errorf("captcha: verify request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("recaptcha", "network").Inc()
		return nil, fmt.Errorf("captcha: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamErrors.WithLabelValues("recaptcha", "http").Inc()
		return nil, fmt.Errorf("captcha: unexpected http %d", resp.StatusCode)
	}

	var v Verdict
	if err := json.Unmarshal(body, &v); err != nil {
		metrics.UpstreamErrors.WithLabelValues("recaptcha", "decode").Inc()
		return nil, fmt.Errorf("captcha: decode response: %w", err)
	}
	return &v, nil
}
