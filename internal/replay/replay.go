package replay

import "github.com/pv/gcode-timemachine-go/internal/gcode"

// Replayer восстанавливает MachineState на произвольный момент времени.
//
// Вперёд — инкрементально: в base досворачиваются только завершившиеся с
// прошлого запроса инструкции, O(продвинутых). Назад — полный пересбор с
// нуля: состояние инструмента и пера строго зависит от порядка и не
// "вычитается" алгебраически. Перемотка назад реже тиков воспроизведения,
// поэтому корректность важнее стоимости.
type Replayer struct {
	prog *gcode.Program

	base    MachineState // свёртка полностью завершённых инструкций
	applied int          // количество инструкций, учтённых в base
}

// NewReplayer создаёт проигрыватель состояния для программы.
func NewReplayer(prog *gcode.Program) *Replayer {
	return &Replayer{prog: prog}
}

// StateAt возвращает состояние машины на момент t (мс).
// Детерминирован: повторный вызов с тем же t даёт идентичный результат.
func (r *Replayer) StateAt(t float64) MachineState {
	if r.prog.Empty() {
		return MachineState{}
	}
	idx, progress := r.prog.Locate(t)

	if idx < r.applied {
		// Перемотка назад: пересобираем с начала.
		r.base = MachineState{}
		r.applied = 0
	}
	for i := r.applied; i < idx; i++ {
		apply(&r.base, &r.prog.Instructions[i], 1)
	}
	r.applied = idx

	// Граничная инструкция накладывается на копию: base хранит только
	// полностью завершённые, иначе частичная дистанция задвоится.
	snap := r.base
	apply(&snap, &r.prog.Instructions[idx], progress)
	snap.Time = clampTime(t, r.prog.TotalDuration)
	return snap
}

// Rebuild — полный пересбор состояния с нуля, без кеша. Используется в
// тестах как эталон эквивалентности инкрементального пути.
func Rebuild(prog *gcode.Program, t float64) MachineState {
	return NewReplayer(prog).StateAt(t)
}

func clampTime(t, total float64) float64 {
	if t < 0 {
		return 0
	}
	if t > total {
		return total
	}
	return t
}
