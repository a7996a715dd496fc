//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"lcmeval/internal/config"
	"lcmeval/internal/database"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupPostgres(t *testing.T) *gorm.DB {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("test_lcmeval"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := database.NewPostgresConnection(config.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		User:            "test_user",
		Password:        "test_password",
		DBName:          "test_lcmeval",
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 60,
	})
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db))
	return db
}

func TestGormRepository(t *testing.T) {
	db := setupPostgres(t)

	testRepositoryContract(t, func(t *testing.T) Repository {
		require.NoError(t, DropTables(db))
		require.NoError(t, RunMigrations(db))
		return NewGormRepository(db, zaptest.NewLogger(t))
	})

	stats, err := GetTableStats(db)
	require.NoError(t, err)
	require.Contains(t, stats, "generation_records")
	require.NoError(t, database.HealthCheck(db))
}
