package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pv/gcode-timemachine-go/pkg/config"
)

// ErrNotFound возвращается, когда записи с указанным ID нет в библиотеке.
var ErrNotFound = errors.New("storage: record not found")

// ProgramRecord — сохранённая моторная программа.
type ProgramRecord struct {
	ID        string
	Name      string
	GCode     string
	CreatedAt time.Time
}

// ProgramInfo — строка каталога без текста программы.
type ProgramInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Library — интерфейс библиотеки программ и пользовательских типов перьев
// для конкретного хранилища (SQLite, Postgres...).
type Library interface {
	// SaveProgram сохраняет программу. ID задаёт вызывающий.
	SaveProgram(ctx context.Context, rec ProgramRecord) error
	// Program возвращает программу по ID или ErrNotFound.
	Program(ctx context.Context, id string) (ProgramRecord, error)
	// Programs возвращает каталог, новые записи первыми.
	Programs(ctx context.Context) ([]ProgramInfo, error)
	// SavePenType регистрирует или обновляет пользовательский тип пера.
	SavePenType(ctx context.Context, pt config.PenType) error
	// PenTypes возвращает сохранённые типы перьев по возрастанию ID.
	PenTypes(ctx context.Context) ([]config.PenType, error)
	Close()
}

// Sample — точка телеметрии воспроизведения.
type Sample struct {
	SessionID string
	ProgramID string
	Recorded  time.Time
	PlayMS    float64
	X         float64
	Y         float64
	Tool      int
	PenDown   bool
	PumpCount int
	DrawnMM   float64
	TravelMM  float64
}

// Recorder — приёмник телеметрии воспроизведения (ClickHouse...).
type Recorder interface {
	// Record записывает пачку сэмплов одной сессии.
	Record(ctx context.Context, samples []Sample) error
	Close()
}
