package postgres

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bobmcallan/riskbatch/internal/common"
	tcommon "github.com/bobmcallan/riskbatch/tests/common"
)

// testManager starts the shared Postgres container and returns a migrated
// Manager on a database created for this test.
func testManager(t *testing.T) *Manager {
	t.Helper()

	pc := tcommon.StartPostgres(t)
	ctx := context.Background()

	admin, err := sqlx.Connect("postgres", pc.DSN("riskbatch"))
	if err != nil {
		t.Fatalf("connect to Postgres: %v", err)
	}
	defer admin.Close()

	sanitized := strings.ToLower(strings.NewReplacer("/", "_", " ", "_", "-", "_").Replace(t.Name()))
	if len(sanitized) > 40 {
		sanitized = sanitized[:40]
	}
	dbName := fmt.Sprintf("t_%s_%d", sanitized, time.Now().UnixNano()%100000)
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+dbName); err != nil {
		t.Fatalf("create database: %v", err)
	}

	cfg := common.NewDefaultConfig().Storage.Postgres
	cfg.DSN = pc.DSN(dbName)
	m, err := NewManager(ctx, common.NewSilentLogger(), cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	t.Cleanup(func() {
		m.Close()
	})

	return m
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
