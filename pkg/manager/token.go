package manager

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// RoleManager is the only role a join token grants
const RoleManager = "manager"

// TokenManager manages join tokens for the cluster. Only token digests are
// kept, so a leaked table does not leak usable tokens.
type TokenManager struct {
	tokens map[string]*JoinToken
	mu     sync.RWMutex
	now    func() time.Time
}

// JoinToken represents a token for joining the cluster
type JoinToken struct {
	Token     string `json:"token,omitempty"`
	Role      string `json:"role"`
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager() *TokenManager {
	return &TokenManager{
		tokens: make(map[string]*JoinToken),
		now:    time.Now,
	}
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateToken generates a new join token
func (tm *TokenManager) GenerateToken(role string, duration time.Duration) (*JoinToken, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}
	token := hex.EncodeToString(bytes)

	now := tm.now()
	stored := &JoinToken{
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}

	tm.mu.Lock()
	tm.tokens[digest(token)] = stored
	tm.mu.Unlock()

	issued := *stored
	issued.Token = token
	return &issued, nil
}

// ValidateToken validates a join token and returns its role
func (tm *TokenManager) ValidateToken(token string) (string, error) {
	want := digest(token)

	tm.mu.RLock()
	defer tm.mu.RUnlock()

	for d, jt := range tm.tokens {
		if subtle.ConstantTimeCompare([]byte(d), []byte(want)) != 1 {
			continue
		}
		if tm.now().After(jt.ExpiresAt) {
			return "", fmt.Errorf("token expired")
		}
		return jt.Role, nil
	}
	return "", fmt.Errorf("invalid token")
}

// RevokeToken revokes a join token
func (tm *TokenManager) RevokeToken(token string) {
	tm.mu.Lock()
	delete(tm.tokens, digest(token))
	tm.mu.Unlock()
}

// CleanupExpiredTokens removes expired tokens and returns how many were dropped
func (tm *TokenManager) CleanupExpiredTokens() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := tm.now()
	removed := 0
	for d, jt := range tm.tokens {
		if now.After(jt.ExpiresAt) {
			delete(tm.tokens, d)
			removed++
		}
	}
	return removed
}

// ListTokens returns all active tokens without their secret part
func (tm *TokenManager) ListTokens() []*JoinToken {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	tokens := make([]*JoinToken, 0, len(tm.tokens))
	for _, jt := range tm.tokens {
		copied := *jt
		tokens = append(tokens, &copied)
	}

	return tokens
}
