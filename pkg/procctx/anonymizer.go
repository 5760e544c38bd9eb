package procctx

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Anonymizer maps real filenames and usernames to stable anonymized tokens
// for structured logging, so a KeyUserName/KeyDocURI field can be logged
// without leaking the real value while still letting the same input always
// map to the same token (useful for correlating log lines about the same
// document or user without exposing its identity).
type Anonymizer struct {
	mu      sync.Mutex
	salt    [16]byte
	tokens  map[string]string
	enabled bool
}

// NewAnonymizer creates an anonymizer with a fresh random salt, disabled by
// default. Enable it with SetEnabled once configuration has been loaded.
func NewAnonymizer() *Anonymizer {
	a := &Anonymizer{tokens: make(map[string]string)}
	_, _ = rand.Read(a.salt[:])
	return a
}

// SetEnabled turns anonymization on or off. When disabled, Anonymize
// returns its input unchanged.
func (a *Anonymizer) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// Anonymize returns a stable anonymized token for value, or value itself
// if anonymization is disabled. The same value always maps to the same
// token within a process lifetime; the token reveals nothing about value
// beyond repeated-value correlation.
func (a *Anonymizer) Anonymize(value string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled || value == "" {
		return value
	}
	if tok, ok := a.tokens[value]; ok {
		return tok
	}

	h := sha256.New()
	h.Write(a.salt[:])
	h.Write([]byte(value))
	tok := "anon-" + hex.EncodeToString(h.Sum(nil))[:16]
	a.tokens[value] = tok
	return tok
}
