// Package database provides a ready-to-use *database.Client for integration
// tests, backed by a throwaway PostgreSQL schema (CI: external service
// container via CI_DATABASE_URL; local dev: a shared testcontainer).
package database

import (
	"testing"

	"github.com/agentforge/agentd/pkg/database"
	"github.com/agentforge/agentd/test/util"
)

// NewTestClient creates a test database client with migrations applied.
// The underlying schema/container is cleaned up automatically on test end.
func NewTestClient(t *testing.T) *database.Client {
	return util.SetupTestDatabase(t)
}
