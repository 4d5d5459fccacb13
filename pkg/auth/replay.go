package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrMessageExpired  = errors.New("message expired")
	ErrMessageReplayed = errors.New("message nonce already used")
	ErrMissingNonce    = errors.New("message nonce is required")
)

// ReplayGuard rejects expired admin messages and nonces it has already
// accepted. Nonces are held until their message expires; the set is not
// persisted.
type ReplayGuard struct {
	mu        sync.Mutex
	maxTTL    time.Duration
	now       func() time.Time
	seen      map[string]time.Time
	lastPrune time.Time
}

// NewReplayGuard returns a guard that also rejects expiries more than maxTTL
// in the future. now defaults to time.Now.
func NewReplayGuard(maxTTL time.Duration, now func() time.Time) *ReplayGuard {
	if now == nil {
		now = time.Now
	}
	return &ReplayGuard{
		maxTTL: maxTTL,
		now:    now,
		seen:   make(map[string]time.Time),
	}
}

// Accept records nonce if the message is still valid at the current time.
func (g *ReplayGuard) Accept(nonce string, expiresAtUnix int64) error {
	if nonce == "" {
		return ErrMissingNonce
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	expiresAt := time.Unix(expiresAtUnix, 0)
	if !now.Before(expiresAt) {
		return ErrMessageExpired
	}
	if g.maxTTL > 0 && expiresAt.Sub(now) > g.maxTTL {
		return fmt.Errorf("%w: expiry is more than %s ahead", ErrMessageExpired, g.maxTTL)
	}

	g.prune(now)
	if _, ok := g.seen[nonce]; ok {
		return ErrMessageReplayed
	}
	g.seen[nonce] = expiresAt
	return nil
}

func (g *ReplayGuard) prune(now time.Time) {
	if now.Sub(g.lastPrune) < time.Minute {
		return
	}
	g.lastPrune = now
	for nonce, expiresAt := range g.seen {
		if !now.Before(expiresAt) {
			delete(g.seen, nonce)
		}
	}
}
