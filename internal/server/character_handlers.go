package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/gamehub/internal/account"
)

type createCharacterRequest struct {
	Name  string `json:"name"`
	Class string `json:"class"`
}

type updateCharacterRequest struct {
	Name  *string `json:"name"`
	Class *string `json:"class"`
	Level *int    `json:"level"`
}

func (a *api) listCharacters(c *gin.Context) {
	list, err := a.accounts.ListCharacters(c.Request.Context(), currentClaims(c).UserID())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"characters": toCharacterList(list)})
}

func (a *api) createCharacter(c *gin.Context) {
	var req createCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ch, err := a.accounts.CreateCharacter(c.Request.Context(), currentClaims(c).UserID(), account.CharacterInput{
		Name:  req.Name,
		Class: req.Class,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCharacterResponse(ch))
}

func (a *api) getCharacter(c *gin.Context) {
	ch, err := a.accounts.GetCharacter(c.Request.Context(), currentClaims(c).UserID(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCharacterResponse(ch))
}

func (a *api) updateCharacter(c *gin.Context) {
	var req updateCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ch, err := a.accounts.UpdateCharacter(c.Request.Context(), currentClaims(c).UserID(), c.Param("id"), account.CharacterPatch{
		Name:  req.Name,
		Class: req.Class,
		Level: req.Level,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCharacterResponse(ch))
}

func (a *api) deleteCharacter(c *gin.Context) {
	if err := a.accounts.DeleteCharacter(c.Request.Context(), currentClaims(c).UserID(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
