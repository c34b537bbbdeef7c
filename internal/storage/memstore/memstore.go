package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pv/gcode-timemachine-go/internal/storage"
	"github.com/pv/gcode-timemachine-go/pkg/config"
)

// Store хранит библиотеку в памяти. Используется как запасной вариант,
// когда БД не настроена, и как подмена в тестах.
type Store struct {
	mu       sync.Mutex
	programs map[string]storage.ProgramRecord
	penTypes map[string]config.PenType
}

func New() *Store {
	return &Store{
		programs: map[string]storage.ProgramRecord{},
		penTypes: map[string]config.PenType{},
	}
}

func (s *Store) Close() {}

func (s *Store) SaveProgram(ctx context.Context, rec storage.ProgramRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs[rec.ID] = rec
	return nil
}

func (s *Store) Program(ctx context.Context, id string) (storage.ProgramRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ProgramRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.programs[id]
	if !ok {
		return storage.ProgramRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Programs(ctx context.Context) ([]storage.ProgramInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.ProgramInfo, 0, len(s.programs))
	for _, rec := range s.programs {
		out = append(out, storage.ProgramInfo{
			ID:        rec.ID,
			Name:      rec.Name,
			SizeBytes: int64(len(rec.GCode)),
			CreatedAt: rec.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SavePenType(ctx context.Context, pt config.PenType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := config.ValidatePenType(pt); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.penTypes[pt.ID] = pt
	return nil
}

func (s *Store) PenTypes(ctx context.Context) ([]config.PenType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]config.PenType, 0, len(s.penTypes))
	for _, pt := range s.penTypes {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Recorder накапливает телеметрию в памяти; подмена ClickHouse в тестах.
type Recorder struct {
	mu      sync.Mutex
	samples []storage.Sample
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Close() {}

func (r *Recorder) Record(ctx context.Context, samples []storage.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, samples...)
	return nil
}

// Samples возвращает копию накопленных сэмплов.
func (r *Recorder) Samples() []storage.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.Sample(nil), r.samples...)
}
