package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gamehub/internal/account"
	"github.com/Tyrowin/gamehub/internal/auth"
)

// api holds the dependencies shared by the HTTP handlers.
type api struct {
	hub      *Hub
	accounts *account.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u *account.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

type characterResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Class     string    `json:"class"`
	Level     int       `json:"level"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toCharacterResponse(c *account.Character) characterResponse {
	return characterResponse{
		ID:        c.ID,
		UserID:    c.UserID,
		Name:      c.Name,
		Class:     c.Class,
		Level:     c.Level,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toCharacterList(list []*account.Character) []characterResponse {
	out := make([]characterResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toCharacterResponse(c))
	}
	return out
}

type authResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	TokenType    string       `json:"tokenType"`
	ExpiresIn    int64        `json:"expiresIn"`
	User         userResponse `json:"user"`
}

func toAuthResponse(res *account.AuthResult) authResponse {
	return authResponse{
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    res.Tokens.ExpiresIn,
		User:         toUserResponse(res.User),
	}
}

// writeError maps service errors to HTTP status codes. Unexpected errors are
// logged and reported as 500 without detail.
func (a *api) writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal server error"
	switch {
	case errors.Is(err, account.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, account.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, "invalid username or password"
	case errors.Is(err, auth.ErrStoreUnavailable):
		status, msg = http.StatusServiceUnavailable, "token store unavailable"
	case errors.Is(err, auth.ErrTokenExpired):
		status, msg = http.StatusUnauthorized, "token expired"
	case errors.Is(err, auth.ErrTokenNotFound), errors.Is(err, auth.ErrTokenInvalid):
		status, msg = http.StatusUnauthorized, "invalid token"
	case errors.Is(err, account.ErrUsernameTaken),
		errors.Is(err, account.ErrEmailTaken),
		errors.Is(err, account.ErrCharacterNameTaken),
		errors.Is(err, account.ErrCharacterLimit):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, account.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, account.ErrForbidden):
		status, msg = http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrHubStopped):
		status, msg = http.StatusServiceUnavailable, "server shutting down"
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}

// bindOptionalJSON binds the body into v, accepting an empty body.
func bindOptionalJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
