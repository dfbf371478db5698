package cluster

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cuemby/virtus/pkg/verr"
)

// JoinToken is an opaque, time-limited credential presented by a node
// joining the cluster. Tokens are the only authentication the cluster
// carries.
type JoinToken struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenManager issues and validates join tokens. It is leader-local state,
// not replicated: a new leader simply issues fresh tokens.
type TokenManager struct {
	mu     sync.RWMutex
	tokens map[string]*JoinToken
}

// NewTokenManager constructs an empty TokenManager.
func NewTokenManager() *TokenManager {
	return &TokenManager{tokens: make(map[string]*JoinToken)}
}

// Generate issues a new token valid for ttl.
func (tm *TokenManager) Generate(ttl time.Duration) (*JoinToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, verr.Externalf(err, "generate join token")
	}

	jt := &JoinToken{
		Token:     hex.EncodeToString(raw),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	tm.mu.Lock()
	tm.tokens[jt.Token] = jt
	tm.mu.Unlock()

	return jt, nil
}

// Validate reports whether token is known and unexpired.
func (tm *TokenManager) Validate(token string) error {
	tm.mu.RLock()
	jt, ok := tm.tokens[token]
	tm.mu.RUnlock()

	if !ok {
		return verr.Validationf("join token not recognized")
	}
	if time.Now().After(jt.ExpiresAt) {
		return verr.Validationf("join token expired")
	}
	return nil
}

// Revoke invalidates a token immediately.
func (tm *TokenManager) Revoke(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpired drops every token past its expiry.
func (tm *TokenManager) CleanupExpired() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for token, jt := range tm.tokens {
		if now.After(jt.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}
