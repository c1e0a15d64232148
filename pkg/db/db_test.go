package db

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AbuAli85/business-services-hub-sub011/pkg/config"
)

func TestDSN(t *testing.T) {
	cfg := config.DBConfig{Host: "pg", Port: 5432, User: "app", Password: "p@ss", Name: "hub"}
	assert.Equal(t, "postgres://app:p%40ss@pg:5432/hub?sslmode=disable", DSN(cfg))
	assert.Equal(t, "pgx5://app:p%40ss@pg:5432/hub?sslmode=disable", migrationURL(cfg))
}

func TestOperationOf(t *testing.T) {
	assert.Equal(t, "select", operationOf("\n  SELECT id FROM tasks"))
	assert.Equal(t, "unknown", operationOf("   "))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 8)
}
