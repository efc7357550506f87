package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/gamehub/internal/account"
)

// Deps are the components the router serves.
type Deps struct {
	Hub      *Hub
	Accounts *account.Service
	Metrics  *Metrics
	Origins  *OriginPolicy
	Logger   *slog.Logger

	// AuthRateLimitPerMinute bounds requests per client IP on /api/auth.
	// Zero disables the limit.
	AuthRateLimitPerMinute int
}

// NewRouter builds the gin engine with every HTTP and websocket route.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Origins == nil {
		d.Origins = NewOriginPolicy(nil, d.Logger)
	}
	a := &api{
		hub:      d.Hub,
		accounts: d.Accounts,
		logger:   d.Logger,
		upgrader: newUpgrader(d.Origins),
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		a.logger.Error("panic in handler", "path", c.Request.URL.Path, "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}))
	r.Use(a.requestLogger())
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	r.GET("/health", a.health)
	r.GET("/ws", a.webSocket)
	r.GET("/test", a.testPage)

	apiGroup := r.Group("/api")

	authGroup := apiGroup.Group("/auth")
	if d.AuthRateLimitPerMinute > 0 {
		authGroup.Use(newIPLimiter(d.AuthRateLimitPerMinute).middleware())
	}
	authGroup.POST("/register", a.register)
	authGroup.POST("/login", a.login)
	authGroup.POST("/refresh-token", a.refreshToken)
	authGroup.POST("/logout", a.requireAuth(), a.logout)
	authGroup.GET("/me", a.requireAuth(), a.me)

	chars := apiGroup.Group("/characters", a.requireAuth())
	chars.GET("", a.listCharacters)
	chars.POST("", a.createCharacter)
	chars.GET("/:id", a.getCharacter)
	chars.PUT("/:id", a.updateCharacter)
	chars.DELETE("/:id", a.deleteCharacter)

	admin := apiGroup.Group("/admin", a.requireAuth(), a.requireAdmin())
	admin.GET("/users", a.adminListUsers)
	admin.PUT("/users/:id/role", a.adminSetRole)
	admin.DELETE("/users/:id", a.adminDeleteUser)
	admin.POST("/users/:id/revoke-sessions", a.adminRevokeSessions)
	admin.GET("/characters", a.adminListCharacters)
	admin.GET("/online", a.adminOnline)
	admin.POST("/disconnect-all", a.adminDisconnectAll)
	admin.POST("/tokens/sweep", a.adminSweepTokens)

	return r
}
