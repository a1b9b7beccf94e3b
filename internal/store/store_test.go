package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("vigil_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	older := Record{
		ID: "aaaa1111", Source: "0", Started: base, Ended: base.Add(time.Minute),
		Frames: 1800, Analyses: 30, Failures: 1, RateLimited: 2, CadenceN: 60, Reason: "quit",
	}
	newer := Record{
		ID: "bbbb2222", Source: "rtsp://cam", Started: base.Add(time.Hour), Ended: base.Add(time.Hour + time.Second),
		Frames: 30, CadenceN: 0, Reason: "stream-ended",
	}
	for _, r := range []Record{older, newer} {
		if err := s.RecordSession(ctx, r); err != nil {
			t.Fatalf("RecordSession failed: %v", err)
		}
	}

	list, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID {
		t.Fatalf("Expected newest session first, got %+v", list)
	}
	if list[1].Frames != 1800 || list[1].Reason != "quit" || !list[1].Started.Equal(base) {
		t.Errorf("Session fields did not round trip: %+v", list[1])
	}

	limited, err := s.ListSessions(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("Expected 1 session with limit, got %d (%v)", len(limited), err)
	}

	// Label by prefix
	full, err := s.LabelSession(ctx, "aaaa", "front door")
	if err != nil {
		t.Fatalf("LabelSession failed: %v", err)
	}
	if full != older.ID {
		t.Errorf("Expected prefix to resolve to %s, got %s", older.ID, full)
	}

	// Re-recording keeps the label
	older.Frames = 1900
	if err := s.RecordSession(ctx, older); err != nil {
		t.Fatalf("RecordSession (update) failed: %v", err)
	}
	got, err := s.GetSession(ctx, older.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Label != "front door" || got.Frames != 1900 {
		t.Errorf("Expected label kept and frames updated, got %+v", got)
	}

	if _, err := s.LabelSession(ctx, "zzzz", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown id, got %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListSessions(ctx, 0); err == nil {
		t.Error("Expected listing to fail after the table was dropped")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
