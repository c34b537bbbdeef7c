package api

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pv/gcode-timemachine-go/internal/gcode"
	"github.com/pv/gcode-timemachine-go/internal/replay"
	"github.com/pv/gcode-timemachine-go/internal/storage"
	"github.com/pv/gcode-timemachine-go/pkg/config"
)

const telemetryBatchSize = 32

// Manager владеет проигрывателем и единственной сессией воспроизведения.
// Всё обращение к Player идёт под mu: сам Player однопоточный по контракту.
type Manager struct {
	mu sync.Mutex

	tools    *config.Tools
	library  storage.Library   // может быть nil — библиотека не настроена
	recorder storage.Recorder  // может быть nil — телеметрия выключена
	streamer *StateStreamer    // может быть nil

	player  *replay.Player
	session sessionMeta
	pending []storage.Sample
	tick    time.Duration
}

type sessionMeta struct {
	id        string
	programID string
	name      string
	loadedAt  time.Time
}

// NewManager создаёт менеджер. tick — период хост-цикла воспроизведения.
func NewManager(tools *config.Tools, library storage.Library, recorder storage.Recorder, streamer *StateStreamer, tick time.Duration) *Manager {
	if tools == nil {
		tools = config.Default()
	}
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	return &Manager{
		tools:    tools,
		library:  library,
		recorder: recorder,
		streamer: streamer,
		player:   replay.NewPlayer(),
		tick:     tick,
	}
}

// Run запускает хост-цикл: тикер продвигает шкалу на реально прошедшее
// время и публикует состояние. Блокируется до отмены контекста.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			m.flushTelemetry(context.Background())
			return
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			m.step(ctx, delta)
		}
	}
}

func (m *Manager) step(ctx context.Context, delta time.Duration) {
	m.mu.Lock()
	if m.player.Playback().Status != "playing" {
		m.mu.Unlock()
		return
	}
	// Не Milliseconds(): целочисленное усечение теряет дробную часть
	// кадра, а при тике короче 1 мс шкала вовсе перестаёт двигаться.
	st := m.player.Tick(delta.Seconds() * 1000)
	pb := m.player.Playback()
	m.collectSampleLocked(st)
	batch := m.takePendingLocked(false)
	m.mu.Unlock()

	m.publish(st, pb)
	m.sendTelemetry(ctx, batch)
}

// LoadText разбирает текст программы и атомарно заменяет сессию.
func (m *Manager) LoadText(name, text string) (ProgramSummary, error) {
	prog, err := gcode.Parse(text, m.tools)
	if err != nil {
		return ProgramSummary{}, err
	}
	return m.install(name, "", prog), nil
}

// LoadFromLibrary загружает сохранённую программу по ID.
func (m *Manager) LoadFromLibrary(ctx context.Context, id string) (ProgramSummary, error) {
	if m.library == nil {
		return ProgramSummary{}, fmt.Errorf("api: program library is not configured")
	}
	rec, err := m.library.Program(ctx, id)
	if err != nil {
		return ProgramSummary{}, err
	}
	prog, err := gcode.Parse(rec.GCode, m.tools)
	if err != nil {
		return ProgramSummary{}, err
	}
	return m.install(rec.Name, rec.ID, prog), nil
}

func (m *Manager) install(name, programID string, prog *gcode.Program) ProgramSummary {
	m.mu.Lock()
	st := m.player.Load(prog)
	pb := m.player.Playback()
	m.session = sessionMeta{
		id:        uuid.NewString(),
		programID: programID,
		name:      name,
		loadedAt:  time.Now(),
	}
	m.pending = nil
	summary := m.summaryLocked()
	m.mu.Unlock()

	log.Printf("[manager] program loaded: session=%s name=%q instructions=%d total=%.0fms",
		summary.SessionID, name, summary.Instructions, summary.TotalMS)
	m.publish(st, pb)
	return summary
}

// SaveProgram валидирует G-code парсингом и сохраняет его в библиотеку.
func (m *Manager) SaveProgram(ctx context.Context, name, text string) (storage.ProgramInfo, error) {
	if m.library == nil {
		return storage.ProgramInfo{}, fmt.Errorf("api: program library is not configured")
	}
	if name == "" {
		return storage.ProgramInfo{}, fmt.Errorf("api: program name is empty")
	}
	if _, err := gcode.Parse(text, m.tools); err != nil {
		return storage.ProgramInfo{}, err
	}
	rec := storage.ProgramRecord{
		ID:        uuid.NewString(),
		Name:      name,
		GCode:     text,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.library.SaveProgram(ctx, rec); err != nil {
		return storage.ProgramInfo{}, err
	}
	return storage.ProgramInfo{
		ID:        rec.ID,
		Name:      rec.Name,
		SizeBytes: int64(len(rec.GCode)),
		CreatedAt: rec.CreatedAt,
	}, nil
}

// Play запускает воспроизведение.
func (m *Manager) Play() error {
	return m.transport("play", func(p *replay.Player) { p.Play() })
}

// Pause приостанавливает воспроизведение.
func (m *Manager) Pause() error {
	return m.transport("pause", func(p *replay.Player) { p.Pause() })
}

// Toggle переключает play/pause.
func (m *Manager) Toggle() error {
	return m.transport("toggle", func(p *replay.Player) { p.Toggle() })
}

// Reset останавливает воспроизведение и возвращает шкалу на ноль.
func (m *Manager) Reset() error {
	return m.transport("reset", func(p *replay.Player) { p.Reset() })
}

// Seek перематывает к доле progress ∈ [0,1].
func (m *Manager) Seek(progress float64) error {
	if progress < 0 || progress > 1 {
		return fmt.Errorf("api: progress must be in [0,1], got %g", progress)
	}
	return m.transport("seek", func(p *replay.Player) { p.Seek(progress) })
}

// Skip сдвигает шкалу на deltaMs.
func (m *Manager) Skip(deltaMs float64) error {
	return m.transport("skip", func(p *replay.Player) { p.Skip(deltaMs) })
}

// SetSpeed задаёт множитель скорости.
func (m *Manager) SetSpeed(v float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.player.SetSpeed(v)
}

func (m *Manager) transport(label string, fn func(*replay.Player)) error {
	m.mu.Lock()
	if m.player.Program().Empty() {
		m.mu.Unlock()
		return fmt.Errorf("api: no program loaded")
	}
	fn(m.player)
	st := m.player.State()
	pb := m.player.Playback()
	m.mu.Unlock()

	logDebugf("[manager] command %s: status=%s time=%.0fms", label, pb.Status, pb.Time)
	m.publish(st, pb)
	return nil
}

// State возвращает текущее состояние машины и транспорта.
func (m *Manager) State() StateResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StateResponse{
		SessionID: m.session.id,
		Machine:   m.player.State(),
		Playback:  m.player.Playback(),
	}
}

// Summary возвращает агрегаты загруженной программы.
func (m *Manager) Summary() (ProgramSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.player.Program().Empty() {
		return ProgramSummary{}, fmt.Errorf("api: no program loaded")
	}
	return m.summaryLocked(), nil
}

func (m *Manager) summaryLocked() ProgramSummary {
	prog := m.player.Program()
	return ProgramSummary{
		SessionID:    m.session.id,
		ProgramID:    m.session.programID,
		Name:         m.session.name,
		Instructions: len(prog.Instructions),
		TotalMS:      prog.TotalDuration,
		DrawingMM:    prog.DrawingLength,
		TravelMM:     prog.TravelLength,
		PumpCount:    prog.PumpCount,
		ToolsUsed:    prog.ToolsUsed,
		Warnings:     prog.Warnings,
	}
}

// Library открывает доступ к библиотеке программ (nil, если не настроена).
func (m *Manager) Library() storage.Library { return m.library }

// Tools возвращает активную конфигурацию инструментов.
func (m *Manager) Tools() *config.Tools { return m.tools }

func (m *Manager) publish(st replay.MachineState, pb replay.PlaybackState) {
	if m.streamer != nil {
		m.streamer.Publish(st, pb)
	}
}

func (m *Manager) collectSampleLocked(st replay.MachineState) {
	if m.recorder == nil {
		return
	}
	m.pending = append(m.pending, storage.Sample{
		SessionID: m.session.id,
		ProgramID: m.session.programID,
		Recorded:  time.Now().UTC(),
		PlayMS:    st.Time,
		X:         st.Position.X,
		Y:         st.Position.Y,
		Tool:      st.Tool,
		PenDown:   st.PenDown,
		PumpCount: st.PumpCount,
		DrawnMM:   st.Drawn,
		TravelMM:  st.Traveled,
	})
}

func (m *Manager) takePendingLocked(force bool) []storage.Sample {
	if m.recorder == nil || len(m.pending) == 0 {
		return nil
	}
	if !force && len(m.pending) < telemetryBatchSize {
		return nil
	}
	batch := m.pending
	m.pending = nil
	return batch
}

func (m *Manager) flushTelemetry(ctx context.Context) {
	m.mu.Lock()
	batch := m.takePendingLocked(true)
	m.mu.Unlock()
	m.sendTelemetry(ctx, batch)
}

func (m *Manager) sendTelemetry(ctx context.Context, batch []storage.Sample) {
	if m.recorder == nil || len(batch) == 0 {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.recorder.Record(sendCtx, batch); err != nil {
		log.Printf("[manager] telemetry record failed: %v", err)
	}
}

// StateResponse — ответ GET /api/v1/state.
type StateResponse struct {
	SessionID string               `json:"session_id,omitempty"`
	Machine   replay.MachineState  `json:"machine"`
	Playback  replay.PlaybackState `json:"playback"`
}

// ProgramSummary — агрегаты загруженной программы.
type ProgramSummary struct {
	SessionID    string          `json:"session_id"`
	ProgramID    string          `json:"program_id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Instructions int             `json:"instructions"`
	TotalMS      float64         `json:"total_ms"`
	DrawingMM    float64         `json:"drawing_mm"`
	TravelMM     float64         `json:"travel_mm"`
	PumpCount    int             `json:"pump_count"`
	ToolsUsed    []int           `json:"tools_used"`
	Warnings     []gcode.Warning `json:"warnings,omitempty"`
}
