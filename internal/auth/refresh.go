package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultRefreshTTL is the refresh token lifetime used when none is configured.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// RefreshToken is a persisted refresh token record. The opaque value handed to
// the client is never stored; TokenHash holds its SHA-256 hex digest.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is no longer usable at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IssuedRefresh is what the caller receives when a refresh token is created.
type IssuedRefresh struct {
	Value     string
	UserID    string
	ExpiresAt time.Time
}

// RefreshStore persists refresh token records.
// GetByHash and TakeByHash return (nil, nil) when no record matches.
// TakeByHash deletes the record and returns it in one atomic step, so at most
// one caller ever receives a given record.
type RefreshStore interface {
	Create(ctx context.Context, t *RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*RefreshToken, error)
	TakeByHash(ctx context.Context, hash string) (*RefreshToken, error)
	DeleteByHash(ctx context.Context, hash string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// RefreshTokens issues, verifies, rotates and revokes refresh tokens.
type RefreshTokens struct {
	store  RefreshStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewRefreshTokens returns a RefreshTokens backed by store. A non-positive
// ttl selects DefaultRefreshTTL.
func NewRefreshTokens(store RefreshStore, ttl time.Duration, logger *slog.Logger) *RefreshTokens {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshTokens{store: store, ttl: ttl, now: time.Now, logger: logger}
}

// WithClock returns a copy of r that reads the current time from now.
func (r *RefreshTokens) WithClock(now func() time.Time) *RefreshTokens {
	cp := *r
	cp.now = now
	return &cp
}

// TTL returns the default refresh token lifetime.
func (r *RefreshTokens) TTL() time.Duration {
	return r.ttl
}

// Issue creates a refresh token for userID with the default lifetime.
func (r *RefreshTokens) Issue(ctx context.Context, userID string) (*IssuedRefresh, error) {
	return r.IssueWithTTL(ctx, userID, r.ttl)
}

// IssueWithTTL creates and persists a refresh token for userID that expires after ttl.
func (r *RefreshTokens) IssueWithTTL(ctx context.Context, userID string, ttl time.Duration) (*IssuedRefresh, error) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	value, err := generateOpaque()
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	rec := &RefreshToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: HashRefreshToken(value),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := r.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: create: %w", ErrStoreUnavailable, err)
	}
	return &IssuedRefresh{Value: value, UserID: userID, ExpiresAt: rec.ExpiresAt}, nil
}

// Lookup returns the record for value. It fails with ErrTokenNotFound for
// unknown values and ErrTokenExpired once expiresAt has passed.
func (r *RefreshTokens) Lookup(ctx context.Context, value string) (*RefreshToken, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}
	rec, err := r.store.GetByHash(ctx, HashRefreshToken(value))
	if err != nil {
		return nil, fmt.Errorf("%w: lookup: %w", ErrStoreUnavailable, err)
	}
	if rec == nil {
		return nil, ErrTokenNotFound
	}
	if rec.Expired(r.now()) {
		return nil, ErrTokenExpired
	}
	return rec, nil
}

// Verify reports whether value names a stored, unexpired refresh token.
// Store failures are reported as not valid.
func (r *RefreshTokens) Verify(ctx context.Context, value string) bool {
	_, err := r.Lookup(ctx, value)
	return err == nil
}

// Rotate replaces oldValue with a freshly issued token for the same user.
// The old record is claimed and deleted before the new one is issued, so
// concurrent rotations of one value produce at most one successor. If the
// new token cannot be persisted the old one stays consumed and the caller
// must sign in again.
func (r *RefreshTokens) Rotate(ctx context.Context, oldValue string) (*IssuedRefresh, error) {
	if oldValue == "" {
		return nil, ErrTokenNotFound
	}
	old, err := r.store.TakeByHash(ctx, HashRefreshToken(oldValue))
	if err != nil {
		return nil, fmt.Errorf("%w: take: %w", ErrStoreUnavailable, err)
	}
	if old == nil {
		return nil, ErrTokenNotFound
	}
	if old.Expired(r.now()) {
		return nil, ErrTokenExpired
	}
	next, err := r.Issue(ctx, old.UserID)
	if err != nil {
		r.logger.Warn("refresh token rotation: successor not stored",
			"user", old.UserID, "token_id", old.ID, "err", err)
		return nil, err
	}
	return next, nil
}

// Revoke deletes the token named by value. Unknown values are not an error.
func (r *RefreshTokens) Revoke(ctx context.Context, value string) error {
	if value == "" {
		return nil
	}
	if err := r.store.DeleteByHash(ctx, HashRefreshToken(value)); err != nil {
		return fmt.Errorf("%w: delete: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAllForUser deletes every refresh token owned by userID.
func (r *RefreshTokens) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := r.store.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete by user: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

// SweepExpired deletes all tokens whose expiry is before now and returns the
// number of token records removed.
func (r *RefreshTokens) SweepExpired(ctx context.Context) (int64, error) {
	n, err := r.store.DeleteExpired(ctx, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: sweep: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done. Sweep
// failures are logged and the loop continues.
func (r *RefreshTokens) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.SweepExpired(ctx)
			if err != nil {
				r.logger.Error("refresh token sweep failed", "err", err)
				continue
			}
			if n > 0 {
				r.logger.Info("expired refresh tokens removed", "count", n)
			}
		}
	}
}

// HashRefreshToken returns the hex SHA-256 digest under which a token is stored.
func HashRefreshToken(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}

func generateOpaque() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
