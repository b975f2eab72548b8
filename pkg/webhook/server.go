// Package webhook is the ingress component: an HTTP server that
// receives GitHub and GitLab webhook deliveries, authenticates them,
// filters for the configured bot label, and enqueues a task descriptor.
package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/google/uuid"

	"github.com/agentforge/agentd/pkg/task"
	"github.com/agentforge/agentd/pkg/taskqueue"
)

// maxBodyBytes bounds webhook payload size; GitHub/GitLab deliveries are
// small JSON documents, so this is generous headroom, not a tight limit.
const maxBodyBytes = 5 * 1024 * 1024

// Config holds the per-forge secrets and bot labels the server validates
// and filters against.
type Config struct {
	GitHubSecret  string
	GitHubBotLabel string

	GitLabToken           string
	GitLabSystemHookToken string
	GitLabBotLabel        string
}

// Server is the webhook ingress HTTP server.
type Server struct {
	echo  *echo.Echo
	cfg   Config
	queue taskqueue.Queue

	githubValidator       *GitHubValidator
	gitlabValidator       *GitLabValidator
	gitlabSystemValidator *GitLabValidator
}

// NewServer builds a webhook Server that enqueues matched tasks onto q.
func NewServer(cfg Config, q taskqueue.Queue) *Server {
	e := echo.New()
	s := &Server{
		echo:                  e,
		cfg:                   cfg,
		queue:                 q,
		githubValidator:       NewGitHubValidator(cfg.GitHubSecret),
		gitlabValidator:       NewGitLabValidator(cfg.GitLabToken),
		gitlabSystemValidator: NewGitLabValidator(cfg.GitLabSystemHookToken),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(maxBodyBytes))

	s.echo.GET("/health", func(c *echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	s.echo.POST("/webhook/github", s.handleGitHub)
	s.echo.POST("/webhook/gitlab", s.handleGitLabProject)
	s.echo.POST("/webhook/gitlab/system", s.handleGitLabSystem)
}

// Handler returns the underlying echo.Echo for use as an http.Handler, so
// the composition root can mount it on its own listener or combine it with
// other HTTP surfaces.
func (s *Server) Handler() http.Handler { return s.echo }

func ignored(c *echo.Context, reason string) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ignored", "reason": reason})
}

func (s *Server) handleGitHub(c *echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	signature := c.Request().Header.Get("X-Hub-Signature-256")
	if !s.githubValidator.ValidateSignature(body, signature) {
		slog.Error("github webhook signature validation failed")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON payload")
	}

	eventType := c.Request().Header.Get("X-GitHub-Event")
	action, _ := payload["action"].(string)
	slog.Info("received github webhook", "event", eventType, "action", action)

	if eventType != "issues" && eventType != "pull_request" {
		return ignored(c, "unsupported event type")
	}
	if action != "labeled" {
		return ignored(c, "unsupported action")
	}

	label, _ := mapPath(payload, "label", "name").(string)
	botLabel := s.cfg.GitHubBotLabel
	if botLabel == "" {
		botLabel = "coding agent"
	}
	if label != botLabel {
		return ignored(c, "label mismatch")
	}

	desc, err := githubTaskDescriptor(eventType, payload)
	if err != nil {
		slog.Error("failed to build task from github webhook", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create task")
	}

	if err := s.queue.Put(c.Request().Context(), desc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to enqueue task: %v", err))
	}

	slog.Info("task queued", "task_key", desc.Key.String(), "uuid", desc.UUID)
	return c.JSON(http.StatusOK, map[string]any{"status": "success", "task": desc})
}

func (s *Server) handleGitLabProject(c *echo.Context) error {
	return s.handleGitLab(c, s.gitlabValidator)
}

func (s *Server) handleGitLabSystem(c *echo.Context) error {
	return s.handleGitLab(c, s.gitlabSystemValidator)
}

func (s *Server) handleGitLab(c *echo.Context, validator *GitLabValidator) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	token := c.Request().Header.Get("X-Gitlab-Token")
	if !validator.ValidateToken(token) {
		slog.Error("gitlab webhook token validation failed")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON payload")
	}

	eventType := c.Request().Header.Get("X-Gitlab-Event")
	slog.Info("received gitlab webhook", "event", eventType)

	if eventType != "Issue Hook" && eventType != "Merge Request Hook" {
		return ignored(c, "unsupported event type")
	}

	objAttrs, _ := payload["object_attributes"].(map[string]any)
	action, _ := objAttrs["action"].(string)
	if action != "update" {
		return ignored(c, "unsupported action")
	}

	botLabel := s.cfg.GitLabBotLabel
	if botLabel == "" {
		botLabel = "coding agent"
	}
	if !hasGitLabLabel(payload, botLabel) {
		return ignored(c, "label mismatch")
	}

	desc, err := gitlabTaskDescriptor(eventType, payload)
	if err != nil {
		slog.Error("failed to build task from gitlab webhook", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create task")
	}

	if err := s.queue.Put(c.Request().Context(), desc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to enqueue task: %v", err))
	}

	slog.Info("task queued", "task_key", desc.Key.String(), "uuid", desc.UUID)
	return c.JSON(http.StatusOK, map[string]any{"status": "success", "task": desc})
}

func hasGitLabLabel(payload map[string]any, want string) bool {
	labels, _ := payload["labels"].([]any)
	for _, raw := range labels {
		l, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if title, _ := l["title"].(string); title == want {
			return true
		}
	}
	return false
}

func mapPath(v map[string]any, keys ...string) any {
	cur := any(v)
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}

func githubTaskDescriptor(eventType string, payload map[string]any) (task.Descriptor, error) {
	owner, _ := mapPath(payload, "repository", "owner", "login").(string)
	repo, _ := mapPath(payload, "repository", "name").(string)
	if owner == "" || repo == "" {
		return task.Descriptor{}, fmt.Errorf("missing repository owner/name in payload")
	}

	var item map[string]any
	var key task.Key
	switch eventType {
	case "issues":
		item, _ = payload["issue"].(map[string]any)
		if item == nil {
			return task.Descriptor{}, fmt.Errorf("missing issue in payload")
		}
		number := intFromAny(item["number"])
		key = task.GitHubIssue(owner, repo, number)
	case "pull_request":
		item, _ = payload["pull_request"].(map[string]any)
		if item == nil {
			return task.Descriptor{}, fmt.Errorf("missing pull_request in payload")
		}
		number := intFromAny(item["number"])
		key = task.GitHubPullRequest(owner, repo, number)
	default:
		return task.Descriptor{}, fmt.Errorf("unsupported event type %q", eventType)
	}

	user, _ := mapPath(item, "user", "login").(string)
	return task.Descriptor{
		UUID:       uuid.NewString(),
		Key:        key,
		User:       user,
		EnqueuedAt: time.Now(),
	}, nil
}

func gitlabTaskDescriptor(eventType string, payload map[string]any) (task.Descriptor, error) {
	projectID := intFromAny(mapPath(payload, "project", "id"))
	objAttrs, _ := payload["object_attributes"].(map[string]any)
	if objAttrs == nil {
		return task.Descriptor{}, fmt.Errorf("missing object_attributes in payload")
	}
	iid := intFromAny(objAttrs["iid"])

	var key task.Key
	switch eventType {
	case "Issue Hook":
		key = task.GitLabIssue(projectID, iid)
	case "Merge Request Hook":
		key = task.GitLabChangeRequest(projectID, iid)
	default:
		return task.Descriptor{}, fmt.Errorf("unsupported event type %q", eventType)
	}

	user, _ := mapPath(payload, "user", "username").(string)
	return task.Descriptor{
		UUID:       uuid.NewString(),
		Key:        key,
		User:       user,
		EnqueuedAt: time.Now(),
	}, nil
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
