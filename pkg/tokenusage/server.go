package tokenusage

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"
)

const defaultHistoryDays = 30

// Server exposes the token-usage aggregation as a bearer-authenticated REST
// surface, mirroring pkg/userconfig.Server's composition style.
type Server struct {
	echo   *echo.Echo
	store  *Store
	apiKey string
}

// NewServer builds a token-usage Server. Every request must carry
// "Authorization: Bearer <apiKey>".
func NewServer(store *Store, apiKey string) *Server {
	e := echo.New()
	s := &Server{echo: e, store: store, apiKey: apiKey}
	e.Use(s.requireBearer)
	e.GET("/token-usage/summary", s.handleSummary)
	e.GET("/token-usage/:username/history", s.handleHistory)
	e.GET("/token-usage/:username", s.handleTotals)
	return s
}

// Handler returns the underlying echo.Echo for use as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		const prefix = "Bearer "
		header := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(header, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(header, prefix)), []byte(s.apiKey)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing bearer token")
		}
		return next(c)
	}
}

func (s *Server) handleTotals(c *echo.Context) error {
	username := c.PathParam("username")
	totals, err := s.store.Totals(c.Request().Context(), username, time.Now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load token usage")
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "success", "data": totals})
}

func (s *Server) handleHistory(c *echo.Context) error {
	username := c.PathParam("username")
	days := defaultHistoryDays
	if raw := c.QueryParam("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			days = n
		}
	}

	history, err := s.store.History(c.Request().Context(), username, days, time.Now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load token usage history")
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "success", "data": history})
}

func (s *Server) handleSummary(c *echo.Context) error {
	entries, err := s.store.Summary(c.Request().Context(), time.Now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load token usage summary")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"users":        entries,
			"total_count":  len(entries),
			"last_updated": time.Now().UTC().Format(time.RFC3339),
		},
	})
}
