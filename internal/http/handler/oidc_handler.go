package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lanternauth/lantern/internal/keyring"
	"github.com/lanternauth/lantern/internal/service"
)

// OIDCHandler serves the authorization-code grant surface and the key
// endpoints under /.well-known.
type OIDCHandler struct {
	Authorize *service.AuthorizeService
	Tokens    *service.TokenService
	Keys      *keyring.Manager
	Discovery *service.DiscoveryService

	// ProviderName is the display name on the login form.
	ProviderName string
}

// NewOIDCHandler creates the handler set.
func NewOIDCHandler(authorize *service.AuthorizeService, tokens *service.TokenService, keys *keyring.Manager, discovery *service.DiscoveryService, providerName string) *OIDCHandler {
	return &OIDCHandler{
		Authorize:    authorize,
		Tokens:       tokens,
		Keys:         keys,
		Discovery:    discovery,
		ProviderName: providerName,
	}
}

// OpenIDConfig returns the OpenID discovery document.
func (h *OIDCHandler) OpenIDConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.Discovery.OpenIDConfigurationResponse())
}

// JWKS exposes the public keys of the ring.
func (h *OIDCHandler) JWKS(c *gin.Context) {
	h.respondJWKS(c)
}

// JWKSRotate triggers a key rotation and returns the updated JWKS.
func (h *OIDCHandler) JWKSRotate(c *gin.Context) {
	if err := h.Keys.Rotate(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	h.respondJWKS(c)
}

// JWKSClear deletes every key and returns the now empty JWKS.
func (h *OIDCHandler) JWKSClear(c *gin.Context) {
	if err := h.Keys.Clear(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	h.respondJWKS(c)
}

func (h *OIDCHandler) respondJWKS(c *gin.Context) {
	set, err := h.Keys.CurrentKeySet(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Keys.PublicSet(set))
}

// AuthorizeForm validates the authorization request and renders the login
// page.
func (h *OIDCHandler) AuthorizeForm(c *gin.Context) {
	var req struct {
		ResponseType string `form:"response_type"`
		ClientID     string `form:"client_id"`
		Scope        string `form:"scope"`
		RedirectURI  string `form:"redirect_uri"`
		State        string `form:"state"`
		Nonce        string `form:"nonce"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid authorize request."})
		return
	}

	form, err := h.Authorize.Begin(c.Request.Context(), service.AuthorizeRequest{
		ResponseType: req.ResponseType,
		ClientID:     req.ClientID,
		Scope:        req.Scope,
		RedirectURI:  req.RedirectURI,
		State:        req.State,
		Nonce:        req.Nonce,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.HTML(http.StatusOK, "login.html", gin.H{
		"ProviderName": h.ProviderName,
		"ClientName":   form.ClientName,
		"ContextJSON":  form.ContextJSON,
	})
}

// AuthorizeSubmit verifies the posted credentials and redirects back to the
// client with a one-time code.
func (h *OIDCHandler) AuthorizeSubmit(c *gin.Context) {
	var req struct {
		Username string `form:"username"`
		Password string `form:"password"`
		Context  string `form:"context"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid login submission."})
		return
	}

	redirect, err := h.Authorize.Complete(c.Request.Context(), service.LoginSubmission{
		Username:    req.Username,
		Password:    req.Password,
		ContextJSON: req.Context,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Redirect(http.StatusFound, redirect)
}

// Token handles the authorization-code exchange.
func (h *OIDCHandler) Token(c *gin.Context) {
	var req struct {
		GrantType   string `form:"grant_type"`
		Code        string `form:"code"`
		RedirectURI string `form:"redirect_uri"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid token request."})
		return
	}

	resp, err := h.Tokens.Exchange(c.Request.Context(), service.ExchangeRequest{
		ClientSecret: clientSecretFromHeader(c.GetHeader("Authorization")),
		GrantType:    req.GrantType,
		Code:         req.Code,
		RedirectURI:  req.RedirectURI,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// clientSecretFromHeader strips the Bearer or Basic prefix; the remainder is
// treated as the client secret.
func clientSecretFromHeader(header string) string {
	header = strings.TrimSpace(header)
	for _, prefix := range []string{"Bearer ", "Basic "} {
		if strings.HasPrefix(header, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(header, prefix))
		}
	}
	return header
}

// respondError maps service errors onto HTTP responses. Protocol errors keep
// their status and code; anything else is an internal failure that must not
// leak details.
func respondError(c *gin.Context, err error) {
	var oauthErr *service.OAuthError
	if errors.As(err, &oauthErr) {
		c.JSON(oauthErr.Status, gin.H{"error": oauthErr.Code, "error_description": oauthErr.Description})
		return
	}
	if errors.Is(err, keyring.ErrNoSigningKey) {
		zap.L().Error("no signing key available", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "No signing key available."})
		return
	}
	zap.L().Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
}
