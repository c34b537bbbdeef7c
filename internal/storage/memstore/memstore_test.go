package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pv/gcode-timemachine-go/internal/storage"
	"github.com/pv/gcode-timemachine-go/pkg/config"
)

func TestProgramRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()
	t.Cleanup(store.Close)

	rec := storage.ProgramRecord{
		ID:        "a1",
		Name:      "spirale",
		GCode:     "G1 X10 Y0 F600",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.SaveProgram(ctx, rec); err != nil {
		t.Fatalf("SaveProgram: %v", err)
	}

	got, err := store.Program(ctx, "a1")
	if err != nil {
		t.Fatalf("Program: %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("record mismatch:\n%s", diff)
	}

	if _, err := store.Program(ctx, "nosuch"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProgramsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		rec := storage.ProgramRecord{
			ID:        id,
			Name:      id,
			GCode:     "G28",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveProgram(ctx, rec); err != nil {
			t.Fatalf("SaveProgram %s: %v", id, err)
		}
	}

	infos, err := store.Programs(ctx)
	if err != nil {
		t.Fatalf("Programs: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 records, got %d", len(infos))
	}
	if infos[0].ID != "new" || infos[2].ID != "old" {
		t.Fatalf("unexpected order: %v, %v, %v", infos[0].ID, infos[1].ID, infos[2].ID)
	}
	if infos[0].SizeBytes != int64(len("G28")) {
		t.Fatalf("size = %d, want %d", infos[0].SizeBytes, len("G28"))
	}
}

func TestPenTypesValidatedAndSorted(t *testing.T) {
	ctx := context.Background()
	store := New()

	bad := config.PenType{ID: "bad", PenUp: 10, PenDown: 20}
	var cerr config.ConfigError
	if err := store.SavePenType(ctx, bad); !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}

	for _, id := range []string{"zeta", "alpha"} {
		pt := config.PenType{ID: id, DisplayName: id, PenUp: 33, PenDown: 13, PumpHeight: 50}
		if err := store.SavePenType(ctx, pt); err != nil {
			t.Fatalf("SavePenType %s: %v", id, err)
		}
	}
	pts, err := store.PenTypes(ctx)
	if err != nil {
		t.Fatalf("PenTypes: %v", err)
	}
	if len(pts) != 2 || pts[0].ID != "alpha" || pts[1].ID != "zeta" {
		t.Fatalf("unexpected pen types: %+v", pts)
	}
}

func TestRecorderAccumulates(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	t.Cleanup(rec.Close)

	batch := []storage.Sample{
		{SessionID: "s1", PlayMS: 100, X: 1},
		{SessionID: "s1", PlayMS: 200, X: 2},
	}
	if err := rec.Record(ctx, batch); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := rec.Record(ctx, []storage.Sample{{SessionID: "s1", PlayMS: 300, X: 3}}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got := rec.Samples()
	if len(got) != 3 || got[2].PlayMS != 300 {
		t.Fatalf("unexpected samples: %+v", got)
	}
}

func TestContextCancellation(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.SaveProgram(ctx, storage.ProgramRecord{ID: "x"}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if _, err := store.Programs(ctx); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
