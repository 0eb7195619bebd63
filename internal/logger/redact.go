// Package logger provides log output helpers, including a secret-masking writer.
package logger

import (
	"io"
	"regexp"
)

var redactPatterns = []struct {
	re          *regexp.Regexp
	replacement []byte
}{
	// Google API keys (Gemini, reCAPTCHA site admin) start with "AIza".
	{regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`), []byte("[REDACTED-API-KEY]")},
	// Secrets passed as query or form parameters (siteverify, generateContent).
	{regexp.MustCompile(`(?i)(secret|key)=[A-Za-z0-9\-._~%+/]+`), []byte("$1=[REDACTED]")},
	// Bearer tokens in Authorization headers or log fields.
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`), []byte("bearer [REDACTED]")},
}

type RedactWriter struct{ w io.Writer }

func NewRedactWriter(w io.Writer) *RedactWriter { return &RedactWriter{w: w} }

func (r *RedactWriter) Write(p []byte) (int, error) {
	out := p
	for _, pat := range redactPatterns {
		out = pat.re.ReplaceAll(out, pat.replacement)
	}
	_, err := r.w.Write(out)
	return len(p), err
}
