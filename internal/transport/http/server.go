package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/wavelink-im/realtime/internal/auth"
	"github.com/wavelink-im/realtime/internal/config"
	"github.com/wavelink-im/realtime/internal/core"
)

// NewServer builds the HTTP server exposing the realtime endpoint.
func NewServer(hub *core.Hub, jwtConfig *auth.JWTConfig, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	ws := NewWSHandler(hub, logger)
	router.GET("/ws", AuthMiddleware(jwtConfig, logger), ws.Handle)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
