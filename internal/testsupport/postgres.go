package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/angelmondragon/mediapipe/pkg/config"
	"github.com/angelmondragon/mediapipe/pkg/db"
)

// StartPostgres boots a disposable postgres container with the media schema.
// The test is skipped when -short is set or no container runtime is reachable.
func StartPostgres(ctx context.Context, t *testing.T) *db.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skip postgres container in -short mode")
	}

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "mediapipe",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "postgres", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://postgres:postgres@%s:%s/mediapipe?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("skip postgres tests: cannot start postgres container: %v", err)
	}
	t.Cleanup(func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(termCtx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	cfg := config.DBConfig{
		Driver:       config.DBDriverPostgres,
		DSN:          fmt.Sprintf("postgres://postgres:postgres@%s:%s/mediapipe?sslmode=disable", host, port.Port()),
		MaxOpenConns: 8,
		MaxIdleConns: 4,
	}
	client, err := db.New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := ApplySchema(client.DB()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return client
}
