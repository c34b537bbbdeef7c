package clickhouse

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	ch "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/pv/gcode-timemachine-go/internal/storage"
)

type Config struct {
	DSN   string
	Table string
}

// Recorder пишет телеметрию воспроизведения в ClickHouse: по строке на
// сэмпл, пачками через PrepareBatch.
type Recorder struct {
	conn  ch.Conn
	table string
}

func New(ctx context.Context, cfg Config) (*Recorder, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("clickhouse: DSN is empty")
	}
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: parse DSN: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = "localhost:9000"
	}
	if !strings.Contains(host, ":") {
		host = net.JoinHostPort(host, "9000")
	}
	database := strings.TrimPrefix(parsed.Path, "/")
	if database == "" {
		database = "default"
	}
	username := parsed.User.Username()
	password, _ := parsed.User.Password()

	conn, err := ch.Open(&ch.Options{
		Addr: []string{host},
		Auth: ch.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "playback_telemetry"
	}
	if !strings.Contains(table, ".") {
		table = fmt.Sprintf("%s.%s", database, table)
	}
	rec := &Recorder{conn: conn, table: table}
	if err := rec.ensureTable(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return rec, nil
}

func (r *Recorder) Close() {
	if r.conn != nil {
		r.conn.Close()
	}
}

func (r *Recorder) ensureTable(ctx context.Context) error {
	if err := r.conn.Exec(ctx, fmt.Sprintf(createTableSQL, r.table)); err != nil {
		return fmt.Errorf("clickhouse: create telemetry table: %w", err)
	}
	return nil
}

func (r *Recorder) Record(ctx context.Context, samples []storage.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	batch, err := r.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", r.table))
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}
	for _, s := range samples {
		err := batch.Append(
			s.SessionID,
			s.ProgramID,
			s.Recorded,
			s.PlayMS,
			s.X,
			s.Y,
			int32(s.Tool),
			s.PenDown,
			int32(s.PumpCount),
			s.DrawnMM,
			s.TravelMM,
		)
		if err != nil {
			return fmt.Errorf("clickhouse: append sample: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send batch: %w", err)
	}
	return nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
	session_id  String,
	program_id  String,
	recorded    DateTime64(6),
	play_ms     Float64,
	x           Float64,
	y           Float64,
	tool        Int32,
	pen_down    Bool,
	pump_count  Int32,
	drawn_mm    Float64,
	travel_mm   Float64
)
ENGINE = MergeTree
ORDER BY (session_id, recorded);
`

func IsSource(dsn string) bool {
	if dsn == "" {
		return false
	}
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "clickhouse://") || strings.HasPrefix(lower, "ch://")
}
