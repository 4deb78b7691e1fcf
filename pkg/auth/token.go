package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/ideengine/pkg/types"
)

// ScopedToken is a bearer token minted by this engine for container-agent
// and service peers. Browser peers authenticate through ExternalAuthorizer
// instead; their session tokens are never held here.
type ScopedToken struct {
	Token     string
	Kind      types.PeerKind
	Identity  string // container ID for container-agent tokens, caller name for service tokens
	BucketID  string // bound bucket for container-agent tokens; empty for service tokens
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (t *ScopedToken) expired() bool {
	return time.Now().After(t.ExpiresAt)
}

// TokenManager issues and validates ScopedTokens. Grounded on the join-token
// manager used for cluster bootstrap: random hex tokens, in-memory
// expiry-checked storage, explicit revocation.
type TokenManager struct {
	mu     sync.RWMutex
	tokens map[string]*ScopedToken
}

// NewTokenManager creates an empty TokenManager.
func NewTokenManager() *TokenManager {
	return &TokenManager{tokens: make(map[string]*ScopedToken)}
}

func generateTokenString() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// IssueContainerAgentToken mints a token bound to exactly one bucket. A
// container agent holding this token may only touch documents within
// bucketID; CheckScope rejects any request against a different bucket.
func (tm *TokenManager) IssueContainerAgentToken(bucketID, containerID string, ttl time.Duration) (*ScopedToken, error) {
	token, err := generateTokenString()
	if err != nil {
		return nil, err
	}
	st := &ScopedToken{
		Token:     token,
		Kind:      types.PeerKindContainerAgent,
		Identity:  containerID,
		BucketID:  bucketID,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}
	tm.mu.Lock()
	tm.tokens[token] = st
	tm.mu.Unlock()
	return st, nil
}

// IssueServiceToken mints a bucket-unscoped administrative token.
func (tm *TokenManager) IssueServiceToken(identity string, ttl time.Duration) (*ScopedToken, error) {
	token, err := generateTokenString()
	if err != nil {
		return nil, err
	}
	st := &ScopedToken{
		Token:     token,
		Kind:      types.PeerKindService,
		Identity:  identity,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}
	tm.mu.Lock()
	tm.tokens[token] = st
	tm.mu.Unlock()
	return st, nil
}

// Validate looks up token and returns its scope, or ErrUnauthorized if the
// token is unknown, revoked, or expired.
func (tm *TokenManager) Validate(token string) (*ScopedToken, error) {
	tm.mu.RLock()
	st, ok := tm.tokens[token]
	tm.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown token", types.ErrUnauthorized)
	}
	if st.expired() {
		return nil, fmt.Errorf("%w: token expired", types.ErrUnauthorized)
	}
	return st, nil
}

// Revoke invalidates token immediately.
func (tm *TokenManager) Revoke(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpired removes expired tokens. Intended to be called
// periodically by the process hosting the TokenManager.
func (tm *TokenManager) CleanupExpired() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for token, st := range tm.tokens {
		if now.After(st.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}
