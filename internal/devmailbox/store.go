// Package devmailbox keeps the latest password reset token per email in memory so local and test
// environments can complete the reset flow without a mail provider (GET /dev/reset-token).
package devmailbox

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store holds the latest reset token per email for dev-only retrieval. Not used in production.
type Store interface {
	// Put stores token for email until expiresAt, replacing any earlier token.
	Put(ctx context.Context, email, token string, expiresAt time.Time)
	// Get returns the token for email if present and not expired.
	Get(ctx context.Context, email string) (token string, ok bool)
}

type entry struct {
	token     string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store. It also satisfies notify.Notifier.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns an empty mailbox.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: time.Now,
	}
}

func key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Put stores token for email until expiresAt.
func (s *MemoryStore) Put(_ context.Context, email, token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key(email)] = entry{token: token, expiresAt: expiresAt}
}

// Get returns the token for email if present and not expired. Expired entries are dropped.
func (s *MemoryStore) Get(_ context.Context, email string) (string, bool) {
	k := key(email)
	s.mu.RLock()
	e, ok := s.m[k]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, k)
		s.mu.Unlock()
		return "", false
	}
	return e.token, true
}

// SendPasswordReset puts the token in the mailbox.
func (s *MemoryStore) SendPasswordReset(ctx context.Context, email, rawToken string, expiresAt time.Time) error {
	s.Put(ctx, email, rawToken, expiresAt)
	return nil
}

// Prune removes expired entries and returns how many were removed.
func (s *MemoryStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	n := 0
	for k, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, k)
			n++
		}
	}
	return n
}
