// Package mcptool is the MCP tool-server client the dialogue driver
// dispatches tool calls through. It wraps a single MCP session behind a
// synchronous CallTool facade and truncates oversized results before they
// re-enter the dialogue as previous_output.
package mcptool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// DefaultTruncateBytes is the default cap on a tool result's stringified
// size before it is truncated (configurable — see DESIGN.md Open
// Question resolution).
const DefaultTruncateBytes = 8192

const truncationSuffix = "...[truncated]"

// Config describes how to launch the MCP tool server subprocess.
type Config struct {
	Command        string
	Args           []string
	Env            map[string]string
	TruncateBytes  int // 0 uses DefaultTruncateBytes
	ClientName     string
	ClientVersion  string
}

// Client is a synchronous façade over one MCP stdio session.
type Client struct {
	session       *mcpsdk.ClientSession
	truncateBytes int
}

// Connect launches the configured MCP tool server and establishes a
// session over stdio — the same CommandTransport shape used for every
// transport kind upstream, since stdio is the only transport the dialogue
// driver needs (tool servers run as local subprocesses).
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcptool: command is required")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	transport := &mcpsdk.CommandTransport{Command: cmd}

	name := cfg.ClientName
	if name == "" {
		name = "agentd"
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: name, Version: cfg.ClientVersion}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcptool: connect: %w", err)
	}

	truncateBytes := cfg.TruncateBytes
	if truncateBytes <= 0 {
		truncateBytes = DefaultTruncateBytes
	}

	return &Client{session: session, truncateBytes: truncateBytes}, nil
}

// CallTool invokes name with args and returns its stringified, truncated
// text content. Non-text content parts are dropped.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcptool: call %s: %w", name, err)
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		text = "tool error: " + text
	}

	return Truncate(text, c.truncateBytes), nil
}

// Truncate shortens s to at most limit bytes on a UTF-8 rune boundary,
// appending a suffix that marks the cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit - len(truncationSuffix)
	if cut <= 0 {
		return truncationSuffix
	}
	for cut > 0 && !isUTF8Boundary(s, cut) {
		cut--
	}
	return s[:cut] + truncationSuffix
}

func isUTF8Boundary(s string, i int) bool {
	return i == 0 || i >= len(s) || (s[i]&0xC0) != 0x80
}

// Close terminates the underlying session.
func (c *Client) Close() error {
	return c.session.Close()
}
