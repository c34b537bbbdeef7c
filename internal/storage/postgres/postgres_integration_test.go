//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pv/gcode-timemachine-go/internal/storage"
	"github.com/pv/gcode-timemachine-go/pkg/config"
)

// Требует PG_TEST_DSN; схема создаётся автоматически.
func TestIntegrationLibraryRoundTrip(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN is not set; skipping PostgreSQL integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := New(ctx, Config{ConnString: dsn})
	if err != nil {
		t.Fatalf("postgres.New: %v", err)
	}
	t.Cleanup(store.Close)

	rec := storage.ProgramRecord{
		ID:        uuid.NewString(),
		Name:      "integration-plot",
		GCode:     "G1 Z13\nG1 X10 Y0 F600",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := store.SaveProgram(ctx, rec); err != nil {
		t.Fatalf("SaveProgram: %v", err)
	}
	got, err := store.Program(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Program: %v", err)
	}
	if got.Name != rec.Name || got.GCode != rec.GCode || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("record mismatch: %+v vs %+v", got, rec)
	}

	if _, err := store.Program(ctx, uuid.NewString()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	pt := config.PenType{ID: "it-neon", DisplayName: "Neon", PenUp: 34, PenDown: 12, PumpHeight: 40}
	if err := store.SavePenType(ctx, pt); err != nil {
		t.Fatalf("SavePenType: %v", err)
	}
	pts, err := store.PenTypes(ctx)
	if err != nil {
		t.Fatalf("PenTypes: %v", err)
	}
	found := false
	for _, p := range pts {
		if p.ID == pt.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("pen type %q not listed: %+v", pt.ID, pts)
	}
}
