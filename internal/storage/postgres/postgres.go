package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pv/gcode-timemachine-go/internal/storage"
	"github.com/pv/gcode-timemachine-go/pkg/config"
)

type Config struct {
	ConnString string
	MaxConns   int32
}

// Store — библиотека программ и типов перьев на PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: connection string is empty")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	store := &Store{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range []string{createProgramsSQL, createPenTypesSQL} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) SaveProgram(ctx context.Context, rec storage.ProgramRecord) error {
	_, err := s.pool.Exec(ctx, insertProgramSQL,
		rec.ID, rec.Name, rec.GCode, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: save program: %w", err)
	}
	return nil
}

func (s *Store) Program(ctx context.Context, id string) (storage.ProgramRecord, error) {
	row := s.pool.QueryRow(ctx, selectProgramSQL, id)
	var rec storage.ProgramRecord
	if err := row.Scan(&rec.ID, &rec.Name, &rec.GCode, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ProgramRecord{}, storage.ErrNotFound
		}
		return storage.ProgramRecord{}, fmt.Errorf("postgres: program scan: %w", err)
	}
	return rec, nil
}

func (s *Store) Programs(ctx context.Context) ([]storage.ProgramInfo, error) {
	rows, err := s.pool.Query(ctx, listProgramsSQL)
	if err != nil {
		return nil, fmt.Errorf("postgres: list programs: %w", err)
	}
	defer rows.Close()

	var out []storage.ProgramInfo
	for rows.Next() {
		var info storage.ProgramInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.SizeBytes, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: list scan: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Store) SavePenType(ctx context.Context, pt config.PenType) error {
	if err := config.ValidatePenType(pt); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, upsertPenTypeSQL,
		pt.ID, pt.DisplayName, pt.PenUp, pt.PenDown, pt.PumpDistanceThreshold, pt.PumpHeight)
	if err != nil {
		return fmt.Errorf("postgres: save pen type: %w", err)
	}
	return nil
}

func (s *Store) PenTypes(ctx context.Context) ([]config.PenType, error) {
	rows, err := s.pool.Query(ctx, listPenTypesSQL)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pen types: %w", err)
	}
	defer rows.Close()

	var out []config.PenType
	for rows.Next() {
		var pt config.PenType
		if err := rows.Scan(&pt.ID, &pt.DisplayName, &pt.PenUp, &pt.PenDown,
			&pt.PumpDistanceThreshold, &pt.PumpHeight); err != nil {
			return nil, fmt.Errorf("postgres: pen type scan: %w", err)
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

const createProgramsSQL = `
CREATE TABLE IF NOT EXISTS programs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	gcode      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const createPenTypesSQL = `
CREATE TABLE IF NOT EXISTS pen_types (
	id                      TEXT PRIMARY KEY,
	display_name            TEXT NOT NULL,
	pen_up                  DOUBLE PRECISION NOT NULL,
	pen_down                DOUBLE PRECISION NOT NULL,
	pump_distance_threshold DOUBLE PRECISION NOT NULL,
	pump_height             DOUBLE PRECISION NOT NULL
);
`

const insertProgramSQL = `
INSERT INTO programs(id, name, gcode, created_at) VALUES ($1, $2, $3, $4);
`

const selectProgramSQL = `
SELECT id, name, gcode, created_at FROM programs WHERE id = $1;
`

const listProgramsSQL = `
SELECT id, name, LENGTH(gcode)::bigint, created_at
FROM programs
ORDER BY created_at DESC, id;
`

const upsertPenTypeSQL = `
INSERT INTO pen_types(id, display_name, pen_up, pen_down, pump_distance_threshold, pump_height)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	pen_up = EXCLUDED.pen_up,
	pen_down = EXCLUDED.pen_down,
	pump_distance_threshold = EXCLUDED.pump_distance_threshold,
	pump_height = EXCLUDED.pump_height;
`

const listPenTypesSQL = `
SELECT id, display_name, pen_up, pen_down, pump_distance_threshold, pump_height
FROM pen_types
ORDER BY id;
`

func IsPostgresURL(db string) bool {
	return strings.HasPrefix(db, "postgres://") || strings.HasPrefix(db, "postgresql://")
}
