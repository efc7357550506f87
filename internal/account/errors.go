package account

import "errors"

// Sentinel errors for the account service; the HTTP layer maps them to status codes.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already registered")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("validation failed")
	ErrCharacterLimit     = errors.New("character limit reached")
	ErrCharacterNameTaken = errors.New("character name already used")

	// ErrDuplicate is returned by repositories on a unique constraint violation.
	ErrDuplicate = errors.New("duplicate record")
)
