package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

// fakeStore is an in-memory RefreshStore whose operations can be made to fail.
type fakeStore struct {
	mu         sync.Mutex
	tokens     map[string]RefreshToken
	failCreate bool
	failGet    bool
	failDelete bool

	// beforeCreate, when set, runs ahead of every Create outside the lock.
	beforeCreate func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{tokens: map[string]RefreshToken{}}
}

func (s *fakeStore) Create(_ context.Context, t *RefreshToken) error {
	if s.beforeCreate != nil {
		s.beforeCreate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return errBackend
	}
	s.tokens[t.TokenHash] = *t
	return nil
}

func (s *fakeStore) GetByHash(_ context.Context, hash string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, errBackend
	}
	t, ok := s.tokens[hash]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *fakeStore) TakeByHash(_ context.Context, hash string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete {
		return nil, errBackend
	}
	t, ok := s.tokens[hash]
	if !ok {
		return nil, nil
	}
	delete(s.tokens, hash)
	return &t, nil
}

func (s *fakeStore) DeleteByHash(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete {
		return errBackend
	}
	delete(s.tokens, hash)
	return nil
}

func (s *fakeStore) DeleteByUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete {
		return 0, errBackend
	}
	var n int64
	for h, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, h)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete {
		return 0, errBackend
	}
	var n int64
	for h, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, h)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func newRefresh(store RefreshStore, now *time.Time, logs *bytes.Buffer) *RefreshTokens {
	if logs == nil {
		logs = &bytes.Buffer{}
	}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	return NewRefreshTokens(store, 24*time.Hour, logger).WithClock(func() time.Time { return *now })
}

func TestRefreshIssueStoresHashOnly(t *testing.T) {
	now := epoch
	store := newFakeStore()
	r := newRefresh(store, &now, nil)

	issued, err := r.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(issued.Value) < 40 {
		t.Errorf("token value %q looks too short", issued.Value)
	}
	if !issued.ExpiresAt.Equal(epoch.Add(24 * time.Hour)) {
		t.Errorf("ExpiresAt = %v", issued.ExpiresAt)
	}
	for hash, rec := range store.tokens {
		if hash == issued.Value || rec.TokenHash != HashRefreshToken(issued.Value) {
			t.Errorf("stored record %+v should be keyed by hash of value", rec)
		}
		if rec.UserID != "user-1" || rec.ID == "" {
			t.Errorf("stored record = %+v", rec)
		}
	}

	other, err := r.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if other.Value == issued.Value {
		t.Error("two issued tokens should differ")
	}
}

func TestRefreshVerify(t *testing.T) {
	now := epoch
	r := newRefresh(newFakeStore(), &now, nil)
	ctx := context.Background()

	if r.Verify(ctx, "never-issued") {
		t.Error("Verify(never issued) = true")
	}
	if r.Verify(ctx, "") {
		t.Error("Verify(empty) = true")
	}

	issued, err := r.IssueWithTTL(ctx, "user-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Verify(ctx, issued.Value) {
		t.Error("Verify(fresh) = false")
	}

	now = epoch.Add(time.Hour - time.Second)
	if !r.Verify(ctx, issued.Value) {
		t.Error("Verify just before expiry = false")
	}
	now = epoch.Add(time.Hour)
	if r.Verify(ctx, issued.Value) {
		t.Error("Verify at expiry = true")
	}
	if _, err := r.Lookup(ctx, issued.Value); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Lookup at expiry error = %v, want ErrTokenExpired", err)
	}
}

func TestRefreshRotate(t *testing.T) {
	now := epoch
	store := newFakeStore()
	r := newRefresh(store, &now, nil)
	ctx := context.Background()

	old, err := r.Issue(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	next, err := r.Rotate(ctx, old.Value)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if next.Value == old.Value {
		t.Error("rotated token should differ from old")
	}
	if next.UserID != "user-1" {
		t.Errorf("rotated user = %q", next.UserID)
	}
	if r.Verify(ctx, old.Value) {
		t.Error("old token still valid after rotation")
	}
	if !r.Verify(ctx, next.Value) {
		t.Error("new token not valid after rotation")
	}
	if _, err := r.Rotate(ctx, old.Value); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("second Rotate(old) error = %v, want ErrTokenNotFound", err)
	}
	if store.len() != 1 {
		t.Errorf("store holds %d tokens, want 1", store.len())
	}
}

func TestRefreshRotateExpired(t *testing.T) {
	now := epoch
	r := newRefresh(newFakeStore(), &now, nil)
	ctx := context.Background()

	old, err := r.IssueWithTTL(ctx, "user-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	now = epoch.Add(2 * time.Minute)
	if _, err := r.Rotate(ctx, old.Value); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Rotate(expired) error = %v, want ErrTokenExpired", err)
	}
}

func TestRefreshRotateStoreFailures(t *testing.T) {
	now := epoch
	store := newFakeStore()
	var logs bytes.Buffer
	r := newRefresh(store, &now, &logs)
	ctx := context.Background()

	old, err := r.Issue(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	store.failDelete = true
	if _, err := r.Rotate(ctx, old.Value); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Rotate with failing take error = %v, want ErrStoreUnavailable", err)
	}
	store.failDelete = false
	if !r.Verify(ctx, old.Value) {
		t.Error("old token should survive a failed take")
	}

	store.failCreate = true
	if _, err := r.Rotate(ctx, old.Value); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Rotate with failing create error = %v, want ErrStoreUnavailable", err)
	}
	store.failCreate = false
	if r.Verify(ctx, old.Value) {
		t.Error("old token still valid after its rotation was claimed")
	}
	if store.len() != 0 {
		t.Errorf("store holds %d tokens, want 0", store.len())
	}
	if !strings.Contains(logs.String(), "successor not stored") {
		t.Errorf("expected a warning about the lost successor, logs: %s", logs.String())
	}
}

func TestRefreshRotateConcurrentSingleWinner(t *testing.T) {
	now := epoch
	store := newFakeStore()
	r := newRefresh(store, &now, nil)
	ctx := context.Background()

	old, err := r.Issue(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	// Hold every caller that reaches Create until both rotations have
	// started, so a non-atomic claim would let both through.
	const callers = 2
	var started sync.WaitGroup
	started.Add(callers)
	release := make(chan struct{})
	store.beforeCreate = func() { <-release }

	type result struct {
		next *IssuedRefresh
		err  error
	}
	results := make(chan result, callers)
	for i := 0; i < callers; i++ {
		go func() {
			started.Done()
			next, err := r.Rotate(ctx, old.Value)
			results <- result{next, err}
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)

	var wins, notFound int
	for i := 0; i < callers; i++ {
		res := <-results
		switch {
		case res.err == nil:
			wins++
		case errors.Is(res.err, ErrTokenNotFound):
			notFound++
		default:
			t.Errorf("Rotate error = %v", res.err)
		}
	}
	if wins != 1 || notFound != 1 {
		t.Errorf("wins = %d, not found = %d; want exactly one successful rotation", wins, notFound)
	}
	if store.len() != 1 {
		t.Errorf("store holds %d tokens, want 1", store.len())
	}
}

func TestRefreshStoreFailures(t *testing.T) {
	now := epoch
	store := newFakeStore()
	r := newRefresh(store, &now, nil)
	ctx := context.Background()

	store.failCreate = true
	if _, err := r.Issue(ctx, "user-1"); !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, errBackend) {
		t.Errorf("Issue error = %v, want ErrStoreUnavailable wrapping backend error", err)
	}
	store.failCreate = false

	issued, err := r.Issue(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	store.failGet = true
	if _, err := r.Lookup(ctx, issued.Value); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Lookup error = %v, want ErrStoreUnavailable", err)
	}
	if r.Verify(ctx, issued.Value) {
		t.Error("Verify should report false when the store fails")
	}
	store.failGet = false

	store.failDelete = true
	if err := r.Revoke(ctx, issued.Value); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Revoke error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := r.SweepExpired(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("SweepExpired error = %v, want ErrStoreUnavailable", err)
	}
}

func TestRefreshRevoke(t *testing.T) {
	now := epoch
	r := newRefresh(newFakeStore(), &now, nil)
	ctx := context.Background()

	a, _ := r.Issue(ctx, "user-1")
	b, _ := r.Issue(ctx, "user-1")
	c, _ := r.Issue(ctx, "user-2")

	if err := r.Revoke(ctx, a.Value); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := r.Revoke(ctx, "unknown"); err != nil {
		t.Errorf("Revoke(unknown): %v", err)
	}
	if r.Verify(ctx, a.Value) {
		t.Error("revoked token still valid")
	}

	n, err := r.RevokeAllForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 1 {
		t.Errorf("RevokeAllForUser removed %d, want 1", n)
	}
	if r.Verify(ctx, b.Value) {
		t.Error("user-1 token still valid")
	}
	if !r.Verify(ctx, c.Value) {
		t.Error("user-2 token should survive")
	}
}

func TestRefreshSweepExpired(t *testing.T) {
	now := epoch
	store := newFakeStore()
	r := newRefresh(store, &now, nil)
	ctx := context.Background()

	if _, err := r.IssueWithTTL(ctx, "user-1", time.Minute); err != nil {
		t.Fatal(err)
	}
	keep, err := r.IssueWithTTL(ctx, "user-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	now = epoch.Add(10 * time.Minute)
	n, err := r.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("SweepExpired removed %d, want 1", n)
	}
	if !r.Verify(ctx, keep.Value) {
		t.Error("unexpired token removed by sweep")
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	now := epoch
	r := newRefresh(newFakeStore(), &now, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.RunSweeper(ctx, time.Millisecond) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunSweeper returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not stop after cancel")
	}
}
