package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pv/gcode-timemachine-go/internal/storage"
	"github.com/pv/gcode-timemachine-go/pkg/config"
)

type Config struct {
	Source string
}

// Store — библиотека программ и типов перьев на SQLite.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("sqlite: database path is empty")
	}
	db, err := sql.Open("sqlite", cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	store := &Store{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range []string{createProgramsSQL, createPenTypesSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) SaveProgram(ctx context.Context, rec storage.ProgramRecord) error {
	_, err := s.db.ExecContext(ctx, insertProgramSQL,
		rec.ID, rec.Name, rec.GCode, rec.CreatedAt.UTC().UnixMicro())
	if err != nil {
		return fmt.Errorf("sqlite: save program: %w", err)
	}
	return nil
}

func (s *Store) Program(ctx context.Context, id string) (storage.ProgramRecord, error) {
	row := s.db.QueryRowContext(ctx, selectProgramSQL, id)
	var rec storage.ProgramRecord
	var createdUsec int64
	if err := row.Scan(&rec.ID, &rec.Name, &rec.GCode, &createdUsec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ProgramRecord{}, storage.ErrNotFound
		}
		return storage.ProgramRecord{}, fmt.Errorf("sqlite: program scan: %w", err)
	}
	rec.CreatedAt = fromUnixMicro(createdUsec)
	return rec, nil
}

func (s *Store) Programs(ctx context.Context) ([]storage.ProgramInfo, error) {
	rows, err := s.db.QueryContext(ctx, listProgramsSQL)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list programs: %w", err)
	}
	defer rows.Close()

	var out []storage.ProgramInfo
	for rows.Next() {
		var info storage.ProgramInfo
		var createdUsec int64
		if err := rows.Scan(&info.ID, &info.Name, &info.SizeBytes, &createdUsec); err != nil {
			return nil, fmt.Errorf("sqlite: list scan: %w", err)
		}
		info.CreatedAt = fromUnixMicro(createdUsec)
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Store) SavePenType(ctx context.Context, pt config.PenType) error {
	if err := config.ValidatePenType(pt); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, upsertPenTypeSQL,
		pt.ID, pt.DisplayName, pt.PenUp, pt.PenDown, pt.PumpDistanceThreshold, pt.PumpHeight)
	if err != nil {
		return fmt.Errorf("sqlite: save pen type: %w", err)
	}
	return nil
}

func (s *Store) PenTypes(ctx context.Context) ([]config.PenType, error) {
	rows, err := s.db.QueryContext(ctx, listPenTypesSQL)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pen types: %w", err)
	}
	defer rows.Close()

	var out []config.PenType
	for rows.Next() {
		var pt config.PenType
		if err := rows.Scan(&pt.ID, &pt.DisplayName, &pt.PenUp, &pt.PenDown,
			&pt.PumpDistanceThreshold, &pt.PumpHeight); err != nil {
			return nil, fmt.Errorf("sqlite: pen type scan: %w", err)
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

const createProgramsSQL = `
CREATE TABLE IF NOT EXISTS programs (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	gcode        TEXT NOT NULL,
	created_usec INTEGER NOT NULL
);
`

const createPenTypesSQL = `
CREATE TABLE IF NOT EXISTS pen_types (
	id                      TEXT PRIMARY KEY,
	display_name            TEXT NOT NULL,
	pen_up                  REAL NOT NULL,
	pen_down                REAL NOT NULL,
	pump_distance_threshold REAL NOT NULL,
	pump_height             REAL NOT NULL
);
`

const insertProgramSQL = `
INSERT INTO programs(id, name, gcode, created_usec) VALUES (?, ?, ?, ?);
`

const selectProgramSQL = `
SELECT id, name, gcode, created_usec FROM programs WHERE id = ?;
`

const listProgramsSQL = `
SELECT id, name, LENGTH(CAST(gcode AS BLOB)), created_usec
FROM programs
ORDER BY created_usec DESC, id;
`

const upsertPenTypeSQL = `
INSERT INTO pen_types(id, display_name, pen_up, pen_down, pump_distance_threshold, pump_height)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	display_name = excluded.display_name,
	pen_up = excluded.pen_up,
	pen_down = excluded.pen_down,
	pump_distance_threshold = excluded.pump_distance_threshold,
	pump_height = excluded.pump_height;
`

const listPenTypesSQL = `
SELECT id, display_name, pen_up, pen_down, pump_distance_threshold, pump_height
FROM pen_types
ORDER BY id;
`

func fromUnixMicro(usec int64) time.Time {
	return time.UnixMicro(usec).UTC()
}

func IsSource(src string) bool {
	if src == "" {
		return false
	}
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "sqlite://"),
		strings.HasPrefix(lower, "file:"),
		strings.HasSuffix(lower, ".db"),
		src == ":memory:":
		return true
	default:
		return false
	}
}

func NormalizeSource(src string) string {
	if strings.HasPrefix(src, "sqlite://") {
		return strings.TrimPrefix(src, "sqlite://")
	}
	return src
}
