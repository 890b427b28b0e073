package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/discussblog/backend/internal/model"
	"github.com/discussblog/backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type AuthHandler struct {
	identity *service.IdentityService
	sessions *service.SessionAccessor
	baseURL  string
}

func NewAuthHandler(identity *service.IdentityService, sessions *service.SessionAccessor, baseURL string) *AuthHandler {
	return &AuthHandler{identity: identity, sessions: sessions, baseURL: baseURL}
}

// SignIn godoc
// @Summary Start GitHub sign-in
// @Description Redirects to GitHub with a random state stored in a short-lived cookie.
// @Tags auth
// @Success 302
// @Failure 500 {object} model.ErrorResponse
// @Router /api/auth/signin [get]
func (h *AuthHandler) SignIn(c *gin.Context) {
	url, state, err := h.identity.SignInURL()
	if err != nil {
		writeAuthError(c, err)
		return
	}

	h.setCookie(c, h.identity.StateCookieConfig(), state)
	c.Redirect(http.StatusFound, url)
}

// Callback godoc
// @Summary GitHub OAuth callback
// @Description Validates state, exchanges the code and sets the session cookie.
// @Tags auth
// @Param code query string true "Authorization code"
// @Param state query string true "State issued by signin"
// @Success 302
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/auth/callback [get]
func (h *AuthHandler) Callback(c *gin.Context) {
	stateCfg := h.identity.StateCookieConfig()
	expected, _ := c.Cookie(stateCfg.Name)
	h.clearCookie(c, stateCfg)

	if providerErr := c.Query("error"); providerErr != "" {
		log.Warn().Str("provider_error", providerErr).Msg("github sign-in denied")
		writeAuthError(c, service.ErrAuthProvider)
		return
	}

	state := c.Query("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		log.Warn().Msg("oauth state mismatch")
		writeAuthError(c, service.ErrAuthProvider)
		return
	}

	identity, err := h.identity.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		log.Warn().Err(err).Msg("github sign-in failed")
		writeAuthError(c, err)
		return
	}

	token, _, err := h.identity.IssueSessionToken(*identity)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	log.Info().Str("login", identity.Login).Msg("signed in")
	h.setCookie(c, h.identity.CookieConfig(), token)
	c.Redirect(http.StatusFound, h.baseURL+"/")
}

// SignOut godoc
// @Summary Sign out
// @Description Clears the session cookie.
// @Tags auth
// @Produce json
// @Success 200 {object} model.StatusResponse
// @Router /api/auth/signout [post]
func (h *AuthHandler) SignOut(c *gin.Context) {
	h.clearCookie(c, h.identity.CookieConfig())
	c.JSON(http.StatusOK, model.StatusResponse{Status: "signed_out"})
}

// Session godoc
// @Summary Current session
// @Description Returns the signed-in identity. The provider access token is never included.
// @Tags auth
// @Produce json
// @Success 200 {object} model.SessionResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /api/auth/session [get]
func (h *AuthHandler) Session(c *gin.Context) {
	sess := GetSession(c)
	if sess == nil {
		writeAuthError(c, service.ErrInvalidSession)
		return
	}
	c.JSON(http.StatusOK, model.SessionResponse{
		User:    sess.Identity,
		IsOwner: h.sessions.IsOwnerSession(sess),
		Expires: sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *AuthHandler) setCookie(c *gin.Context, cfg service.CookieConfig, value string) {
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, value, cfg.MaxAge, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func (h *AuthHandler) clearCookie(c *gin.Context, cfg service.CookieConfig) {
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, "", -1, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSession):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
	case errors.Is(err, service.ErrAuthProvider):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "sign-in failed"})
	case errors.Is(err, service.ErrMisconfigured):
		log.Error().Err(err).Msg("auth misconfigured")
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "sign-in is not configured"})
	default:
		log.Error().Err(err).Msg("auth error")
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "server error"})
	}
}
