package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"boacid/internal/accounts"
	"boacid/internal/auth"
)

type credentials struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

func (h *Handler) Signup(c *gin.Context) {
	if !h.cfg.AllowSignup {
		fail(c, http.StatusForbidden, "signup is disabled", nil)
		return
	}
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	user, err := h.accounts.Signup(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, accounts.ErrInvalidInput):
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	case errors.Is(err, accounts.ErrUsernameTaken):
		fail(c, http.StatusConflict, "username exists", nil)
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, "could not create account", err)
		return
	}
	h.log.Info().Str("username", user.Username).Msg("account created")
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	user, err := h.accounts.Authenticate(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, accounts.ErrInvalidCredentials) {
		fail(c, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "login failed", err)
		return
	}

	session, err := auth.Issue(user.ID, user.Username, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.SessionTTL)
	if err != nil {
		fail(c, http.StatusInternalServerError, "token issue failed", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookie, session.Token, int(h.cfg.SessionTTL.Seconds()), "/", "", h.cfg.SecureCookies, true)
	c.JSON(http.StatusOK, gin.H{
		"token":      session.Token,
		"expires_at": session.ExpiresAt.Unix(),
		"user":       user,
	})
}

func (h *Handler) Logout(c *gin.Context) {
	claims, ok := auth.CurrentIdentity(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "login required", nil)
		return
	}
	if err := h.revoker.Revoke(c.Request.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
		fail(c, http.StatusInternalServerError, "logout failed", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookie, "", -1, "/", "", h.cfg.SecureCookies, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// Me returns the account behind the current session.
func (h *Handler) Me(c *gin.Context) {
	claims, ok := auth.CurrentIdentity(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "login required", nil)
		return
	}
	user, err := h.accounts.Get(c.Request.Context(), claims.Subject)
	if err != nil {
		fail(c, http.StatusInternalServerError, "account lookup failed", err)
		return
	}
	if user == nil {
		fail(c, http.StatusUnauthorized, "account no longer exists", nil)
		return
	}
	c.JSON(http.StatusOK, user)
}
