// Package common provides shared container fixtures for store integration tests.
package common

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

// sharedContainer starts one container per test process and hands the same
// endpoint to every caller.
type sharedContainer struct {
	name string
	port string // container port, e.g. "5432/tcp"

	once      sync.Once
	container testcontainers.Container
	host      string
	mapped    string
	err       error
}

// start launches the container on first use. Skipped with -short.
func (s *sharedContainer) start(t *testing.T, req testcontainers.ContainerRequest) {
	t.Helper()

	if testing.Short() {
		t.Skipf("skipping %s container test in short mode", s.name)
	}

	s.once.Do(func() {
		ctx := context.Background()

		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			s.err = fmt.Errorf("start %s container: %w", s.name, err)
			return
		}

		host, err := container.Host(ctx)
		if err != nil {
			container.Terminate(ctx)
			s.err = fmt.Errorf("get %s host: %w", s.name, err)
			return
		}

		mapped, err := container.MappedPort(ctx, nat.Port(s.port))
		if err != nil {
			container.Terminate(ctx)
			s.err = fmt.Errorf("get %s port: %w", s.name, err)
			return
		}

		s.container, s.host, s.mapped = container, host, mapped.Port()
	})

	if s.err != nil {
		t.Fatalf("%s container failed: %v", s.name, s.err)
	}
}

// terminate stops the container. Call from TestMain if needed.
func (s *sharedContainer) terminate() {
	if s != nil && s.container != nil {
		s.container.Terminate(context.Background())
	}
}
