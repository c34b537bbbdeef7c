package replay

import (
	"fmt"

	"github.com/pv/gcode-timemachine-go/internal/gcode"
)

// Status — состояние транспорта воспроизведения.
type Status int

const (
	StatusStopped Status = iota
	StatusPlaying
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "stopped"
	}
}

// PlaybackState — срез транспорта для внешнего UI.
type PlaybackState struct {
	Time     float64 `json:"time_ms"`
	Total    float64 `json:"total_ms"`
	Progress float64 `json:"progress"`
	Status   string  `json:"status"`
	Speed    float64 `json:"speed"`
}

// Player владеет текущим временем, флагом воспроизведения и скоростью.
// Однопоточный по контракту: внешний цикл зовёт Tick раз за кадр,
// синхронизация — забота владельца (api.Manager).
type Player struct {
	prog *gcode.Program
	rep  *Replayer

	time   float64
	status Status
	speed  float64
	last   MachineState
}

// NewPlayer создаёт остановленный проигрыватель без программы.
func NewPlayer() *Player {
	return &Player{speed: 1}
}

// Load атомарно устанавливает новую программу: полная остановка,
// сброс времени и состояния машины. Возвращает состояние на t=0.
func (p *Player) Load(prog *gcode.Program) MachineState {
	p.prog = prog
	p.rep = NewReplayer(prog)
	p.time = 0
	p.status = StatusStopped
	return p.refresh()
}

// Program возвращает загруженную программу (nil, если нет).
func (p *Player) Program() *gcode.Program { return p.prog }

// State возвращает последний вычисленный срез состояния машины.
func (p *Player) State() MachineState { return p.last }

// Playback возвращает срез транспорта.
func (p *Player) Playback() PlaybackState {
	st := PlaybackState{
		Time:   p.time,
		Total:  p.total(),
		Status: p.status.String(),
		Speed:  p.speed,
	}
	if st.Total > 0 {
		st.Progress = st.Time / st.Total
	}
	return st
}

// Play запускает воспроизведение из Stopped или Paused.
func (p *Player) Play() {
	if p.prog.Empty() {
		return
	}
	p.status = StatusPlaying
}

// Pause приостанавливает воспроизведение.
func (p *Player) Pause() {
	if p.status == StatusPlaying {
		p.status = StatusPaused
	}
}

// Toggle переключает play/pause.
func (p *Player) Toggle() {
	if p.status == StatusPlaying {
		p.Pause()
	} else {
		p.Play()
	}
}

// Reset останавливает воспроизведение и возвращает шкалу на ноль.
func (p *Player) Reset() MachineState {
	p.status = StatusStopped
	p.time = 0
	if p.prog != nil {
		p.rep = NewReplayer(p.prog)
	}
	return p.refresh()
}

// Seek перематывает к доле progress ∈ [0,1] от общей длительности,
// не меняя режим play/pause. Перемотка синхронна: полный пересбор,
// если нужен, завершается до возврата.
func (p *Player) Seek(progress float64) MachineState {
	if progress < 0 {
		progress = 0
	} else if progress > 1 {
		progress = 1
	}
	p.time = progress * p.total()
	return p.refresh()
}

// Skip сдвигает шкалу на deltaMs (знак задаёт направление) с зажимом в
// [0, total]. Достижение конца при воспроизведении переводит в паузу.
func (p *Player) Skip(deltaMs float64) MachineState {
	return p.advanceTo(p.time + deltaMs)
}

// Tick продвигает шкалу на deltaMs*speed, только в состоянии Playing.
// Не блокирует: единственная стоимость — поиск по шкале и доснятие
// завершившихся инструкций.
func (p *Player) Tick(deltaMs float64) MachineState {
	if p.status != StatusPlaying {
		return p.last
	}
	return p.advanceTo(p.time + deltaMs*p.speed)
}

// SetSpeed задаёт множитель скорости (> 0).
func (p *Player) SetSpeed(v float64) error {
	if v <= 0 {
		return fmt.Errorf("replay: speed must be positive, got %g", v)
	}
	p.speed = v
	return nil
}

func (p *Player) advanceTo(t float64) MachineState {
	total := p.total()
	if t < 0 {
		t = 0
	}
	if t > total {
		t = total
	}
	p.time = t
	if p.status == StatusPlaying && total > 0 && p.time >= total {
		p.status = StatusPaused
	}
	return p.refresh()
}

// refresh выполняет ровно один вызов Replayer после изменения времени.
func (p *Player) refresh() MachineState {
	if p.prog.Empty() {
		p.last = MachineState{}
		return p.last
	}
	p.last = p.rep.StateAt(p.time)
	return p.last
}

func (p *Player) total() float64 {
	if p.prog == nil {
		return 0
	}
	return p.prog.TotalDuration
}
