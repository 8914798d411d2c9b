package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/wavelink-im/realtime/internal/auth"
)

// ContextKeyUserID is the gin context key for the authenticated user ID.
const ContextKeyUserID = "user_id"

// AuthMiddleware validates the connection credential before any other
// handler runs. A missing, malformed or expired token refuses the connection
// outright; no partial registration happens. WebSocket clients may pass the
// token as a "token" query parameter since they cannot always set headers.
func AuthMiddleware(jwtConfig *auth.JWTConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			logger.Debug().Msg("missing credential")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing credential"})
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(jwtConfig, token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Next()
	}
}

// LoggerMiddleware logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// ErrorResponse is the JSON body for HTTP-level errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
