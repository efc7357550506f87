package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListUsers returns a page of users ordered by creation time.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*User, error) {
	limit, offset = clampPage(limit, offset)
	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ListAllCharacters returns a page of characters across all users.
func (s *Service) ListAllCharacters(ctx context.Context, limit, offset int) ([]*Character, error) {
	limit, offset = clampPage(limit, offset)
	list, err := s.characters.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	return list, nil
}

// SetRole changes the role of userID. An admin cannot demote themselves.
func (s *Service) SetRole(ctx context.Context, actorID, userID string, role Role) (*User, error) {
	if !role.Valid() {
		return nil, validationError("unknown role %q", role)
	}
	if actorID == userID && role != RoleAdmin {
		return nil, ErrForbidden
	}
	if err := s.users.UpdateRole(ctx, userID, role, s.now().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update role: %w", err)
	}
	// Live sessions still carry the old role claim.
	if err := s.RevokeSessions(ctx, userID); err != nil {
		return nil, err
	}
	return s.Me(ctx, userID)
}

// RevokeSessions deletes every refresh token of userID and closes their
// realtime connections.
func (s *Service) RevokeSessions(ctx context.Context, userID string) error {
	n, err := s.refresh.RevokeAllForUser(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.Info("refresh tokens revoked", "user", userID, "count", n)
	return s.terminate(ctx, userID)
}

// DeleteUser removes userID with their characters and credentials. An admin
// cannot delete their own account.
func (s *Service) DeleteUser(ctx context.Context, actorID, userID string) error {
	if actorID == userID {
		return ErrForbidden
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return ErrNotFound
	}
	if err := s.RevokeSessions(ctx, userID); err != nil {
		return err
	}
	chars, err := s.characters.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list characters: %w", err)
	}
	for _, c := range chars {
		if err := s.characters.Delete(ctx, c.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete character %s: %w", c.ID, err)
		}
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}
	s.logger.Info("user deleted", "user", userID, "username", user.Username)
	return nil
}

// SweepTokens removes expired refresh tokens immediately and returns how many
// token records were deleted. Stores that expire records on their own, such
// as Redis, only count what was still present.
func (s *Service) SweepTokens(ctx context.Context) (int64, error) {
	return s.refresh.SweepExpired(ctx)
}

// EnsureAdmin creates an admin account with the given credentials unless a
// user with that username already exists. Returns true when one was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) (bool, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || password == "" {
		return false, nil
	}
	existing, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return false, fmt.Errorf("lookup admin: %w", err)
	}
	if existing != nil {
		return false, nil
	}
	if err := validateUsername(username); err != nil {
		return false, err
	}
	if err := validateEmail(email); err != nil {
		return false, err
	}
	if err := validatePassword(password); err != nil {
		return false, err
	}
	if _, err := s.createUser(ctx, username, email, password, RoleAdmin); err != nil {
		return false, err
	}
	s.logger.Info("admin account created", "username", username)
	return true, nil
}
