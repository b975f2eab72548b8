package userconfig

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// validBearer reports whether header is "Bearer <want>", compared in
// constant time so token-length/content timing can't leak the secret.
func validBearer(header, want string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got := strings.TrimPrefix(header, prefix)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Server exposes the per-user config lookup as a bearer-authenticated REST
// endpoint, matching the webhook server's composition style (an echo.Echo
// the caller mounts directly or combines with other HTTP surfaces).
type Server struct {
	echo     *echo.Echo
	resolver *Resolver
	apiKey   string
}

// NewServer builds a config Server. Every request must carry
// "Authorization: Bearer <apiKey>"; apiKey is the operator-configured
// API_SERVER_KEY.
func NewServer(resolver *Resolver, apiKey string) *Server {
	e := echo.New()
	s := &Server{echo: e, resolver: resolver, apiKey: apiKey}
	e.Use(s.requireBearer)
	e.GET("/config/:platform/:username", s.handleGetConfig)
	return s
}

// Handler returns the underlying echo.Echo for use as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if !validBearer(c.Request().Header.Get("Authorization"), s.apiKey) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing bearer token")
		}
		return next(c)
	}
}

func (s *Server) handleGetConfig(c *echo.Context) error {
	platform := c.PathParam("platform")
	username := c.PathParam("username")

	cfg, err := s.resolver.Resolve(c.Request().Context(), platform, username)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve configuration")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "success",
		"data":   cfg,
	})
}
