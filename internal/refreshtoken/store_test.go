package refreshtoken

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"registry-portal/backend/internal/refreshtoken/domain"
	"registry-portal/backend/internal/security"
)

type memRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken
	err    error
}

func newMemRepo() *memRepo {
	return &memRepo{tokens: make(map[string]*domain.RefreshToken)}
}

func (m *memRepo) Create(ctx context.Context, t *domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	c := *t
	m.tokens[t.TokenHash] = &c
	return nil
}

func (m *memRepo) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.tokens[hash]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (m *memRepo) Revoke(ctx context.Context, hash string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok || t.Revoked {
		return false, nil
	}
	t.Revoked, t.RevokedAt = true, &at
	return true, nil
}

func (m *memRepo) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked, t.RevokedAt = true, &at
			n++
		}
	}
	return n, nil
}

func (m *memRepo) ConsumeActive(ctx context.Context, hash string, now time.Time) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok || !t.Active(now) {
		return "", false, nil
	}
	t.Revoked, t.RevokedAt = true, &now
	return t.UserID, true, nil
}

func (m *memRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, t := range m.tokens {
		if t.ExpiresAt.Before(cutoff) || (t.Revoked && t.RevokedAt.Before(cutoff)) {
			delete(m.tokens, h)
			n++
		}
	}
	return n, nil
}

type inlineTx struct{}

func (inlineTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

func newTestStore() (*Store, *memRepo) {
	repo := newMemRepo()
	return NewStore(repo, inlineTx{}, 7*24*time.Hour), repo
}

func TestStore_IssueAndValidate(t *testing.T) {
	s, repo := newTestStore()
	ctx := context.Background()

	raw, tok, err := s.Issue(ctx, "u1", Client{SourceIP: "10.0.0.1", UserAgent: "test"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if raw == "" || tok.UserID != "u1" {
		t.Fatalf("Issue returned raw=%q tok=%+v", raw, tok)
	}
	if _, stored := repo.tokens[raw]; stored {
		t.Fatal("raw token must not be used as the storage key")
	}
	if tok.TokenHash != security.HashToken(raw) {
		t.Error("stored hash should be HashToken(raw)")
	}
	if got := tok.ExpiresAt.Sub(tok.IssuedAt); got != 7*24*time.Hour {
		t.Errorf("ttl = %v, want 168h", got)
	}

	v, err := s.Validate(ctx, raw)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.UserID != "u1" {
		t.Errorf("Validate user = %q", v.UserID)
	}

	for _, bad := range []string{"", "unknown"} {
		if _, err := s.Validate(ctx, bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Validate(%q) err = %v, want ErrInvalidToken", bad, err)
		}
	}
}

func TestStore_ExpiredTokenRejected(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	s.now = func() time.Time { return time.Now().Add(-8 * 24 * time.Hour) }
	raw, _, err := s.Issue(ctx, "u1", Client{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	s.now = time.Now

	if _, err := s.Validate(ctx, raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate expired err = %v", err)
	}
	if _, _, err := s.Rotate(ctx, raw, Client{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Rotate expired err = %v", err)
	}
}

func TestStore_RevokeIdempotent(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	raw, _, _ := s.Issue(ctx, "u1", Client{})

	for i := 0; i < 2; i++ {
		if err := s.Revoke(ctx, raw); err != nil {
			t.Fatalf("Revoke #%d: %v", i+1, err)
		}
	}
	if err := s.Revoke(ctx, "never-issued"); err != nil {
		t.Fatalf("Revoke unknown: %v", err)
	}
	if _, err := s.Validate(ctx, raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate revoked err = %v", err)
	}
}

func TestStore_RevokeAll(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	a, _, _ := s.Issue(ctx, "u1", Client{})
	b, _, _ := s.Issue(ctx, "u1", Client{})
	other, _, _ := s.Issue(ctx, "u2", Client{})
	_ = s.Revoke(ctx, b)

	n, err := s.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 1 {
		t.Errorf("RevokeAll = %d, want 1", n)
	}
	if _, err := s.Validate(ctx, a); !errors.Is(err, ErrInvalidToken) {
		t.Error("u1 token should be revoked")
	}
	if _, err := s.Validate(ctx, other); err != nil {
		t.Errorf("u2 token should stay valid: %v", err)
	}
}

func TestStore_Rotate(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	old, _, _ := s.Issue(ctx, "u1", Client{})

	fresh, tok, err := s.Rotate(ctx, old, Client{SourceIP: "10.0.0.2"})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if fresh == old {
		t.Fatal("rotation must return a new token value")
	}
	if tok.UserID != "u1" || tok.SourceIP != "10.0.0.2" {
		t.Errorf("rotated token = %+v", tok)
	}
	if _, err := s.Validate(ctx, old); !errors.Is(err, ErrInvalidToken) {
		t.Error("old token should be revoked after rotation")
	}
	if _, _, err := s.Rotate(ctx, old, Client{}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("second rotation of old token err = %v", err)
	}
	if _, _, err := s.Rotate(ctx, fresh, Client{}); err != nil {
		t.Errorf("rotation of new token: %v", err)
	}
}

func TestStore_ConcurrentRotateSingleWinner(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	raw, _, _ := s.Issue(ctx, "u1", Client{})

	const workers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		failures  atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := s.Rotate(ctx, raw, Client{})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrInvalidToken):
				failures.Add(1)
			default:
				t.Errorf("Rotate: unexpected error %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 {
		t.Fatalf("successes = %d, want exactly 1", successes.Load())
	}
	if failures.Load() != workers-1 {
		t.Fatalf("failures = %d, want %d", failures.Load(), workers-1)
	}
}

func TestStore_Sweep(t *testing.T) {
	s, repo := newTestStore()
	ctx := context.Background()

	s.now = func() time.Time { return time.Now().Add(-10 * 24 * time.Hour) }
	_, _, _ = s.Issue(ctx, "u1", Client{}) // expired 3 days ago
	revokedOld, _, _ := s.Issue(ctx, "u1", Client{})
	_ = s.Revoke(ctx, revokedOld) // revoked 10 days ago
	s.now = time.Now
	live, _, _ := s.Issue(ctx, "u1", Client{})
	revokedNow, _, _ := s.Issue(ctx, "u1", Client{})
	_ = s.Revoke(ctx, revokedNow)

	n, err := s.Sweep(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("Sweep deleted %d, want 2", n)
	}
	if len(repo.tokens) != 2 {
		t.Errorf("remaining = %d, want 2", len(repo.tokens))
	}
	if _, err := s.Validate(ctx, live); err != nil {
		t.Errorf("live token swept: %v", err)
	}
}

func TestStore_RepositoryErrorPropagates(t *testing.T) {
	s, repo := newTestStore()
	repo.err = errors.New("db down")
	if _, _, err := s.Issue(context.Background(), "u1", Client{}); err == nil {
		t.Fatal("Issue should surface storage errors")
	}
	if _, err := s.Validate(context.Background(), "x"); err == nil || errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate storage error = %v, want non-token error", err)
	}
}
