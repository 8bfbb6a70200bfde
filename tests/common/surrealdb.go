package common

import (
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var surreal = &sharedContainer{name: "SurrealDB", port: "8000/tcp"}

// SurrealDBContainer is the market store used by store integration tests.
type SurrealDBContainer struct {
	c *sharedContainer
}

// StartSurrealDB starts the shared SurrealDB container. Tests isolate themselves
// by selecting their own database.
func StartSurrealDB(t *testing.T) *SurrealDBContainer {
	t.Helper()

	surreal.start(t, testcontainers.ContainerRequest{
		Image:        "surrealdb/surrealdb:v3.0.0",
		ExposedPorts: []string{surreal.port},
		Cmd:          []string{"start", "--user", "root", "--pass", "root"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(nat.Port(surreal.port)),
			wait.ForLog("Started web server"),
		).WithDeadline(60 * time.Second),
	})
	return &SurrealDBContainer{c: surreal}
}

// Address returns the WebSocket RPC address.
func (s *SurrealDBContainer) Address() string {
	return fmt.Sprintf("ws://%s:%s/rpc", s.c.host, s.c.mapped)
}

func (s *SurrealDBContainer) Cleanup() { s.c.terminate() }
