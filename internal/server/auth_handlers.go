package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/gamehub/internal/account"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *api) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := a.accounts.Register(c.Request.Context(), account.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAuthResponse(res))
}

func (a *api) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := a.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAuthResponse(res))
}

func (a *api) refreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := a.accounts.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAuthResponse(res))
}

// logout accepts an empty body; without a refresh token only the realtime
// sessions are closed.
func (a *api) logout(c *gin.Context) {
	var req logoutRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	if err := a.accounts.Logout(c.Request.Context(), currentClaims(c).UserID(), req.RefreshToken); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (a *api) me(c *gin.Context) {
	user, err := a.accounts.Me(c.Request.Context(), currentClaims(c).UserID())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}
