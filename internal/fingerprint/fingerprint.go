// Package fingerprint derives a stable hash of the request identity tuple.
// It is broader than the bare IP, so a client rotating addresses but keeping
// an otherwise identical request shape still maps to one abuse key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/agenticpress/homevalue-gate/internal/clientip"
)

// payload is the canonical encoding hashed into the fingerprint. Field order
// is fixed by the struct, so identical identities always produce identical
// hashes. Proxy headers are included only when present.
type payload struct {
	IP             string            `json:"ip"`
	UserAgent      string            `json:"user_agent"`
	AcceptLanguage string            `json:"accept_language"`
	AcceptEncoding string            `json:"accept_encoding"`
	Connection     string            `json:"connection"`
	Referer        string            `json:"referer"`
	RequestMethod  string            `json:"request_method"`
	ProxyHeaders   map[string]string `json:"headers,omitempty"`
}

var proxyHeaderNames = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}

// Generate returns the hex-encoded SHA-256 fingerprint of id.
func Generate(id clientip.Identity) string {
	p := payload{
		IP:             id.IP,
		UserAgent:      id.UserAgent,
		AcceptLanguage: id.Headers.Get("Accept-Language"),
		AcceptEncoding: id.Headers.Get("Accept-Encoding"),
		Connection:     id.Headers.Get("Connection"),
		Referer:        id.Referer,
		RequestMethod:  id.Method,
	}
	for _, name := range proxyHeaderNames {
		if v := id.Headers.Get(name); v != "" {
			if p.ProxyHeaders == nil {
				p.ProxyHeaders = make(map[string]string, len(proxyHeaderNames))
			}
			// json.Marshal sorts map keys, so presence order does not
			// affect the hash.
			p.ProxyHeaders[name] = v
		}
	}

	data, err := json.Marshal(p)
	if err != nil {
		// Marshalling a struct of strings cannot fail; hash the IP alone
		// rather than returning an error nobody can act on.
		data = []byte(id.IP)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
