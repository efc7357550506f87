package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/gamehub/internal/auth"
)

// SessionTerminator disconnects every live realtime session of a user.
type SessionTerminator interface {
	ForceLogout(ctx context.Context, userID string) (int, error)
}

// TokenPair is returned by register, login and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // access token lifetime in seconds
	ExpiresAt    time.Time
}

// AuthResult bundles the issued tokens with the authenticated user.
type AuthResult struct {
	Tokens TokenPair
	User   *User
}

// RegisterInput carries registration fields.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Service implements registration, login, token refresh and logout, plus the
// character and admin operations defined in characters.go and admin.go.
type Service struct {
	users      UserRepository
	characters CharacterRepository
	hasher     *auth.Hasher
	access     *auth.AccessTokens
	refresh    *auth.RefreshTokens
	sessions   SessionTerminator
	logger     *slog.Logger
	now        func() time.Time
}

// NewService returns a Service. sessions may be nil until the realtime hub is
// attached with SetSessionTerminator.
func NewService(
	users UserRepository,
	characters CharacterRepository,
	hasher *auth.Hasher,
	access *auth.AccessTokens,
	refresh *auth.RefreshTokens,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:      users,
		characters: characters,
		hasher:     hasher,
		access:     access,
		refresh:    refresh,
		logger:     logger,
		now:        time.Now,
	}
}

// SetSessionTerminator attaches the component that kills realtime sessions on logout.
func (s *Service) SetSessionTerminator(t SessionTerminator) {
	s.sessions = t
}

// Register creates a player account and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	existing, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lookup username: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}
	existing, err = s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	user, err := s.createUser(ctx, username, email, in.Password, RolePlayer)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user", user.ID, "username", user.Username)
	return s.signIn(ctx, user)
}

// Login checks the username and password and issues a token pair.
func (s *Service) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lookup username: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.signIn(ctx, user)
}

// Refresh rotates the refresh token and issues a new access token for its owner.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	next, err := s.refresh.Rotate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, next.UserID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		_ = s.refresh.Revoke(ctx, next.Value)
		return nil, auth.ErrTokenNotFound
	}
	access, accessExp, err := s.access.Issue(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		Tokens: s.pair(access, accessExp, next.Value),
		User:   user,
	}, nil
}

// Logout deletes the caller's refresh token, if one is supplied and owned by
// userID, and disconnects every realtime session of the user.
func (s *Service) Logout(ctx context.Context, userID, refreshToken string) error {
	if refreshToken != "" {
		rec, err := s.refresh.Lookup(ctx, refreshToken)
		switch {
		case err == nil:
			if rec.UserID != userID {
				return ErrForbidden
			}
			if err := s.refresh.Revoke(ctx, refreshToken); err != nil {
				return err
			}
		case errors.Is(err, auth.ErrTokenNotFound), errors.Is(err, auth.ErrTokenExpired):
			// already gone; still end realtime sessions
		default:
			return err
		}
	}
	return s.terminate(ctx, userID)
}

// Me returns the user identified by userID.
func (s *Service) Me(ctx context.Context, userID string) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// VerifyAccess validates an access token and returns its claims.
func (s *Service) VerifyAccess(token string) (*auth.Claims, error) {
	return s.access.Verify(token)
}

func (s *Service) terminate(ctx context.Context, userID string) error {
	if s.sessions == nil {
		return nil
	}
	n, err := s.sessions.ForceLogout(ctx, userID)
	if err != nil {
		return fmt.Errorf("force logout: %w", err)
	}
	if n > 0 {
		s.logger.Info("realtime sessions closed", "user", userID, "count", n)
	}
	return nil
}

func (s *Service) createUser(ctx context.Context, username, email, password string, role Role) (*User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	user := &User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Service) signIn(ctx context.Context, user *User) (*AuthResult, error) {
	access, accessExp, err := s.access.Issue(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	rt, err := s.refresh.Issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		Tokens: s.pair(access, accessExp, rt.Value),
		User:   user,
	}, nil
}

func (s *Service) pair(access string, accessExp time.Time, refresh string) TokenPair {
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.access.TTL() / time.Second),
		ExpiresAt:    accessExp,
	}
}
