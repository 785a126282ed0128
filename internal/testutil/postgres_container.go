package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgImage = "postgres:16"
	pgUser  = "weave"
	pgDB    = "weave_test"
)

// startPostgres runs one Postgres container for the whole test binary.
// Cleanup is left to testcontainers' reaper, which removes the
// container when the test process exits.
var startPostgres = sync.OnceValues(func() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	dsn := func(host, port string) string {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", pgUser, pgUser, host, port, pgDB)
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        pgImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgUser,
				"POSTGRES_DB":       pgDB,
			},
			// Listening alone is not enough: Postgres restarts once during
			// init, so verify with a real query against the mapped port.
			WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
				return dsn(host, port.Port())
			}).WithQuery("SELECT 1").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return "", fmt.Errorf("starting %s: %w", pgImage, err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return "", err
	}
	return dsn(host, port.Port()), nil
})

// GetPostgresEndpoint returns the DSN of the shared test Postgres,
// starting it on first use. Fails the test when Docker is unavailable.
func GetPostgresEndpoint(t *testing.T) string {
	t.Helper()
	dsn, err := startPostgres()
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	return dsn
}
