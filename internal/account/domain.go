// Package account implements player accounts, characters and the admin
// operations built on them. Credentials come from the auth package; realtime
// sessions are terminated through a SessionTerminator.
package account

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Role is the authorisation level of a user.
type Role string

const (
	RolePlayer Role = "player"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePlayer || r == RoleAdmin
}

// User is a registered player or administrator.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Character classes a player may pick.
const (
	ClassWarrior = "warrior"
	ClassMage    = "mage"
	ClassRogue   = "rogue"
	ClassCleric  = "cleric"
)

const (
	// MaxCharactersPerUser bounds how many characters one account may own.
	MaxCharactersPerUser = 5
	minLevel             = 1
	maxLevel             = 100
)

// Character is a playable character owned by a user.
type Character struct {
	ID        string
	UserID    string
	Name      string
	Class     string
	Level     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserRepository persists users. Get methods return (nil, nil) when no row
// matches; Create returns ErrDuplicate on a unique violation.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
	List(ctx context.Context, limit, offset int) ([]*User, error)
	UpdateRole(ctx context.Context, id string, role Role, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// CharacterRepository persists characters. GetByID returns (nil, nil) when
// no row matches; Create and Update return ErrDuplicate when the owner
// already has a character with that name.
type CharacterRepository interface {
	Create(ctx context.Context, c *Character) error
	GetByID(ctx context.Context, id string) (*Character, error)
	ListByUser(ctx context.Context, userID string) ([]*Character, error)
	List(ctx context.Context, limit, offset int) ([]*Character, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	Update(ctx context.Context, c *Character) error
	Delete(ctx context.Context, id string) error
}

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	validClasses    = map[string]struct{}{
		ClassWarrior: {},
		ClassMage:    {},
		ClassRogue:   {},
		ClassCleric:  {},
	}
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return validationError("username must be 3-20 letters, digits or underscores")
	}
	return nil
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return validationError("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < 8 {
		return validationError("password must be at least 8 characters")
	}
	if len(password) > 72 {
		return validationError("password must be at most 72 bytes")
	}
	return nil
}

func normalizeCharacterName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

func validateCharacterName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < 2 || n > 24 {
		return validationError("character name must be 2-24 characters")
	}
	return nil
}

func validateClass(class string) error {
	if _, ok := validClasses[class]; !ok {
		return validationError("unknown character class %q", class)
	}
	return nil
}

func validateLevel(level int) error {
	if level < minLevel || level > maxLevel {
		return validationError("level must be between %d and %d", minLevel, maxLevel)
	}
	return nil
}
