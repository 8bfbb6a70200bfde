package common

import (
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var postgres = &sharedContainer{name: "Postgres", port: "5432/tcp"}

// PostgresContainer is the ledger database used by store integration tests.
type PostgresContainer struct {
	c *sharedContainer
}

// StartPostgres starts the shared PostgreSQL container. Tests isolate themselves
// by creating their own database.
func StartPostgres(t *testing.T) *PostgresContainer {
	t.Helper()

	postgres.start(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{postgres.port},
		Env: map[string]string{
			"POSTGRES_USER":     "riskbatch",
			"POSTGRES_PASSWORD": "riskbatch",
			"POSTGRES_DB":       "riskbatch",
		},
		// The entrypoint restarts the server once after init
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(nat.Port(postgres.port)),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(60 * time.Second),
	})
	return &PostgresContainer{c: postgres}
}

// DSN returns a connection string for the named database.
func (p *PostgresContainer) DSN(database string) string {
	return fmt.Sprintf("postgres://riskbatch:riskbatch@%s:%s/%s?sslmode=disable", p.c.host, p.c.mapped, database)
}

func (p *PostgresContainer) Cleanup() { p.c.terminate() }
