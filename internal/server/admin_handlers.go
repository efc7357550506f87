package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/gamehub/internal/account"
)

type setRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

type disconnectAllRequest struct {
	Reason string `json:"reason"`
}

// page reads limit and offset query parameters. Bad values fall back to the
// service defaults.
func page(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return limit, offset
}

func (a *api) adminListUsers(c *gin.Context) {
	limit, offset := page(c)
	users, err := a.accounts.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		a.writeError(c, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (a *api) adminSetRole(c *gin.Context) {
	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := a.accounts.SetRole(c.Request.Context(), currentClaims(c).UserID(), c.Param("id"), account.Role(req.Role))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (a *api) adminDeleteUser(c *gin.Context) {
	if err := a.accounts.DeleteUser(c.Request.Context(), currentClaims(c).UserID(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) adminRevokeSessions(c *gin.Context) {
	id := c.Param("id")
	if _, err := a.accounts.Me(c.Request.Context(), id); err != nil {
		a.writeError(c, err)
		return
	}
	if err := a.accounts.RevokeSessions(c.Request.Context(), id); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "sessions revoked"})
}

func (a *api) adminListCharacters(c *gin.Context) {
	limit, offset := page(c)
	list, err := a.accounts.ListAllCharacters(c.Request.Context(), limit, offset)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"characters": toCharacterList(list)})
}

func (a *api) adminOnline(c *gin.Context) {
	snap, err := a.hub.Sessions(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (a *api) adminDisconnectAll(c *gin.Context) {
	var req disconnectAllRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := a.hub.DisconnectAll(c.Request.Context(), req.Reason)
	if err != nil {
		a.writeError(c, err)
		return
	}
	a.logger.Info("admin disconnected all players", "admin", currentClaims(c).UserID(), "count", n)
	c.JSON(http.StatusOK, gin.H{"disconnected": n})
}

// adminSweepTokens reports how many expired refresh tokens were deleted. On
// the Redis store expired keys usually vanish through their TTL first, so the
// count is often zero there.
func (a *api) adminSweepTokens(c *gin.Context) {
	n, err := a.accounts.SweepTokens(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}
