package cluster

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// TokenManager issues and validates the bootstrap/join tokens a second (or
// third, ...) engine process presents when asking the current leader to add
// it as a Raft voter. This is a distinct concern from auth.TokenManager,
// which authorizes browser/container-agent WebSocket connections against
// buckets — join tokens only ever gate cluster membership changes.
type JoinToken struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type TokenManager struct {
	mu     sync.RWMutex
	tokens map[string]*JoinToken
}

func NewTokenManager() *TokenManager {
	return &TokenManager{tokens: make(map[string]*JoinToken)}
}

// Generate mints a new join token valid for duration.
func (tm *TokenManager) Generate(duration time.Duration) (*JoinToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate join token: %w", err)
	}

	jt := &JoinToken{
		Token:     hex.EncodeToString(raw),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(duration),
	}

	tm.mu.Lock()
	tm.tokens[jt.Token] = jt
	tm.mu.Unlock()

	return jt, nil
}

// Validate reports whether token is currently valid.
func (tm *TokenManager) Validate(token string) error {
	tm.mu.RLock()
	jt, ok := tm.tokens[token]
	tm.mu.RUnlock()
	if !ok {
		return fmt.Errorf("invalid join token")
	}
	if time.Now().After(jt.ExpiresAt) {
		return fmt.Errorf("join token expired")
	}
	return nil
}

// Revoke invalidates token immediately.
func (tm *TokenManager) Revoke(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpired drops every token past its expiry, called periodically by
// the Coordinator.
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
