package handler

import (
	"net/http"

	"github.com/discussblog/backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type RouterDeps struct {
	Auth           *AuthHandler
	Posts          *PostHandler
	Sessions       *service.SessionAccessor
	Metrics        http.Handler
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For. Empty means the peer address is
	// the client IP.
	TrustedProxies []string
	WriteLimiter   *RateLimiter
	AuthLimiter    *RateLimiter
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(deps.TrustedProxies); err != nil {
		log.Warn().Err(err).Strs("trusted_proxies", deps.TrustedProxies).Msg("invalid trusted proxies, trusting none")
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery(), RequestLogger(), CORSMiddleware(deps.AllowedOrigins, true))

	r.GET("/", Root)
	r.GET("/ping", Ping)
	r.GET("/openapi.json", OpenAPIDoc)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := r.Group("/api")
	api.Use(SessionMiddleware(deps.Sessions))
	{
		api.GET("/posts", deps.Posts.ListPosts)
		api.GET("/posts/:number", deps.Posts.GetPost)
		api.POST("/post", withLimiter(deps.WriteLimiter, deps.Posts.CreatePost)...)

		auth := api.Group("/auth")
		auth.GET("/signin", withLimiter(deps.AuthLimiter, deps.Auth.SignIn)...)
		auth.GET("/callback", withLimiter(deps.AuthLimiter, deps.Auth.Callback)...)
		auth.POST("/signout", deps.Auth.SignOut)
		auth.GET("/session", deps.Auth.Session)
	}

	return r
}

func withLimiter(rl *RateLimiter, h gin.HandlerFunc) []gin.HandlerFunc {
	if rl == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{rl.Middleware(), h}
}
