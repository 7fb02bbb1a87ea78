package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/quizmaster/internal/auth"
)

func (a *API) register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	u, err := a.auth.Register(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Registration successful! You can now login.", "user": u})
}

func (a *API) login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	resp, err := a.auth.Login(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) logout(c *gin.Context) {
	if err := a.auth.Logout(c.Request.Context(), principal(c)); err != nil {
		a.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) me(c *gin.Context) {
	p := principal(c)
	c.JSON(http.StatusOK, gin.H{"user_id": p.UserID, "is_admin": p.IsAdmin})
}
