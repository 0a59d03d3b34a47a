package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	postgresImage    = "postgres:16-alpine"
	postgresDatabase = "dropzone_test"
	postgresUser     = "dropzone"
	postgresPassword = "dropzone"
)

// PostgresContainer is a disposable postgres instance for store tests.
type PostgresContainer struct {
	log       *slog.Logger
	connStr   string
	container *tcpostgres.PostgresContainer
}

// ConnStr returns the container's connection string.
func (c *PostgresContainer) ConnStr() string {
	return c.connStr
}

// Terminate stops and removes the container.
func (c *PostgresContainer) Terminate() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.container.Terminate(ctx); err != nil {
		c.log.Error("failed to terminate postgres container", "error", err)
	}
}

// StartPostgres launches a postgres testcontainer. Container startup is
// retried a couple of times; the docker daemon drops the occasional request
// under parallel test load.
func StartPostgres(ctx context.Context, log *slog.Logger) (*PostgresContainer, error) {
	var container *tcpostgres.PostgresContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = tcpostgres.Run(ctx,
			postgresImage,
			tcpostgres.WithDatabase(postgresDatabase),
			tcpostgres.WithUsername(postgresUser),
			tcpostgres.WithPassword(postgresPassword),
			tcpostgres.BasicWaitStrategies(),
			tcpostgres.WithSQLDriver("pgx"),
		)
		if err == nil {
			break
		}
		lastErr = err
		if !transientDockerErr(err) || attempt == 3 {
			return nil, fmt.Errorf("failed to start postgres container: %w", lastErr)
		}
		time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return &PostgresContainer{
		log:       log,
		connStr:   connStr,
		container: container,
	}, nil
}

func transientDockerErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json")
}
