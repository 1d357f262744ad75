package http

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/lanternauth/lantern/internal/config"
	"github.com/lanternauth/lantern/internal/http/handler"
	httpmiddleware "github.com/lanternauth/lantern/internal/http/middleware"
	"github.com/lanternauth/lantern/internal/middleware"
)

//go:embed templates/*.html
var templateFS embed.FS

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, oidc *handler.OIDCHandler, admin *handler.AdminHandler, adminAuth *httpmiddleware.Admin, rateLimiter *middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(recovery(logger))
	r.Use(httpmiddleware.RequestLogger(logger))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "hello, world")
	})

	r.GET("/.well-known/openid-configuration", oidc.OpenIDConfig)
	r.GET("/.well-known/jwks.json", oidc.JWKS)
	r.PUT("/.well-known/jwks.json", oidc.JWKSRotate)
	r.DELETE("/.well-known/jwks.json", oidc.JWKSClear)

	oidcGroup := r.Group("/oidc")
	{
		oidcGroup.GET("/authorize", oidc.AuthorizeForm)
		oidcGroup.POST("/authorize", oidc.AuthorizeSubmit)
		oidcGroup.POST("/token", oidc.Token)
	}

	adminGroup := r.Group("/admin", adminAuth.Require)
	{
		adminGroup.GET("/clients", admin.ListClients)
		adminGroup.POST("/clients", admin.CreateClient)
		adminGroup.DELETE("/clients/:id", admin.DeleteClient)

		adminGroup.GET("/users", admin.ListUsers)
		adminGroup.POST("/users", admin.CreateUser)
		adminGroup.DELETE("/users/:id", admin.DeleteUser)
		adminGroup.PUT("/users/:id/email", admin.ChangeEmail)
		adminGroup.PUT("/users/:id/password", admin.ChangePassword)

		adminGroup.POST("/keys/rotate", admin.RotateKeys)
		adminGroup.DELETE("/keys", admin.ClearKeys)

		adminGroup.POST("/tokens/preview", admin.PreviewToken)
	}

	return r
}

// recovery catches any unhandled panic, logs it, and returns a well-formed
// JSON 500 instead of leaking a stack trace.
func recovery(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Error("panic recovered", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "Internal server error.",
		})
	})
}
