// Package summary generates a short natural-language valuation summary with
// the Gemini API. The summary is decorative: any failure degrades to an empty
// string and never fails the lookup.
package summary

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agenticpress/homevalue-gate/internal/attom"
	"github.com/agenticpress/homevalue-gate/internal/metrics"
)

const (
	defaultGenerateURL = "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash-latest:generateContent"
	generateTimeout    = 45 * time.Second
	maxBodyBytes       = 1 << 20
)

// DefaultInstructions is the prompt template used when the operator supplies
// none. Placeholders are filled from the property record.
const DefaultInstructions = "Write a short, friendly two-paragraph summary of the home at " +
	"{{full_address}}. It is a {{property_type}} built in {{year_built}} with " +
	"{{bedrooms}} bedrooms and {{bathrooms}} bathrooms. The estimated value is " +
	"{{avm_value}} (range {{avm_range}}, confidence {{confidence_score}})."

// ClientConfig holds configuration for the Gemini client.
type ClientConfig struct {
	APIKey       string
	Instructions string // prompt template; empty selects DefaultInstructions
	GenerateURL  string // Override for testing
}

// Client calls the Gemini generateContent API.
type Client struct {
	apiKey       string
	instructions string
	generateURL  string
	httpClient   *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	instructions := cfg.Instructions
	if instructions == "" {
		instructions = DefaultInstructions
	}
	generateURL := cfg.GenerateURL
	if generateURL == "" {
		generateURL = defaultGenerateURL
	}
	return &Client{
		apiKey:       cfg.APIKey,
		instructions: instructions,
		generateURL:  generateURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
}

// Generate renders the prompt for p and asks Gemini for a summary.
func (c *Client) Generate(ctx context.Context, p *attom.Property) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("summary: no API key configured")
	}

	reqBody := generateRequest{}
	reqBody.Contents = []content{{Parts: []part{{Text: BuildPrompt(c.instructions, p)}}}}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("summary: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.generateURL+"?key="+c.apiKey, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("summary: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			metrics.UpstreamErrors.WithLabelValues("gemini", "timeout").Inc()
			return "", fmt.Errorf("summary: generate timed out: %w", err)
		}
		metrics.UpstreamErrors.WithLabelValues("gemini", "network").Inc()
		return "", fmt.Errorf("summary: generate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("gemini", "network").Inc()
		return "", fmt.Errorf("summary: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamErrors.WithLabelValues("gemini", "http").Inc()
		return "", fmt.Errorf("summary: unexpected http %d: %s", resp.StatusCode, extractErrorMessage(body))
	}

	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		metrics.UpstreamErrors.WithLabelValues("gemini", "decode").Inc()
		return "", fmt.Errorf("summary: decode response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("summary: empty candidate in response")
	}
	return strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text), nil
}

// BuildPrompt substitutes {{placeholder}} tokens in the instruction template
// with fields from the property record. Unknown placeholders become
// "details not available" rather than leaking template syntax to the model.
func BuildPrompt(instructions string, p *attom.Property) string {
	values := map[string]string{
		"full_address":       p.OneLineAddress,
		"locality":           p.City,
		"property_type":      orNA(p.PropertyType),
		"year_built":         orNA(intStr(int64(p.YearBuilt))),
		"bedrooms":           orNA(floatStr(p.Bedrooms)),
		"bathrooms":          orNA(floatStr(p.Bathrooms)),
		"building_size_sqft": orNA(floatStr(p.BuildingSizeSqft)),
		"last_sale_price":    dollars(p.LastSalePrice),
		"avm_value":          dollars(p.AVMValue),
		"avm_range":          dollars(p.AVMLow) + " - " + dollars(p.AVMHigh),
		"confidence_score":   orNA(intStr(int64(p.AVMConfidence))) + "%",
	}

	out := instructions
	for key, val := range values {
		out = strings.ReplaceAll(out, "{{"+key+"}}", val)
	}
	// Anything left unreplaced was an unknown placeholder.
	for {
		start := strings.Index(out, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(out[start:], "}}")
		if end == -1 {
			break
		}
		out = out[:start] + "details not available" + out[start+end+2:]
	}
	return out
}

func orNA(s string) string {
	if s == "" || s == "0" {
		return "details not available"
	}
	return s
}

func intStr(n int64) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%d", n)
}

func floatStr(f float64) string {
	if f == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}

func dollars(n int64) string {
	if n == 0 {
		return "not available"
	}
	s := fmt.Sprintf("%d", n)
	var b strings.Builder
	b.WriteByte('$')
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func extractErrorMessage(body []byte) string {
	var result struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err == nil && result.Error.Message != "" {
		return result.Error.Message
	}
	return "no detail"
}
