package replay

import "github.com/pv/gcode-timemachine-go/internal/gcode"

// MachineState — производный срез механического состояния плоттера.
// Всегда чистая функция (Program, t): ничего, чего нет в программе,
// здесь не хранится — именно это позволяет инкрементальному и полному
// проигрыванию совпадать побитово.
type MachineState struct {
	Position  gcode.Point `json:"position"`
	Tool      int         `json:"tool"` // 0 — инструмент не взят
	PenDown   bool        `json:"pen_down"`
	PumpCount int         `json:"pump_count"`
	Drawn     float64     `json:"drawn_mm"`
	Traveled  float64     `json:"traveled_mm"`
	Time      float64     `json:"time_ms"`
}

// apply сворачивает одну инструкцию в состояние. Переходы пера,
// инструмента и прокачки вступают в силу по завершении инструкции;
// граничный Move вносит пройденную долю дистанции и позицию.
func apply(st *MachineState, in *gcode.Instruction, progress float64) {
	switch in.Kind {
	case gcode.KindMove:
		if progress >= 1 {
			st.Position = in.End
			addDistance(st, in, in.Distance)
		} else {
			st.Position = gcode.Lerp(in.Start, in.End, progress)
			addDistance(st, in, in.Distance*progress)
		}
	case gcode.KindToolChange:
		if progress >= 1 {
			if in.Grab {
				st.Tool = in.Tool
			} else {
				st.Tool = 0
			}
		}
	case gcode.KindPenUp:
		if progress >= 1 {
			st.PenDown = false
		}
	case gcode.KindPenDown:
		if progress >= 1 {
			st.PenDown = true
		}
	case gcode.KindPump:
		if progress >= 1 {
			st.PumpCount++
		}
	}
}

func addDistance(st *MachineState, in *gcode.Instruction, d float64) {
	if in.Travel {
		st.Traveled += d
	} else {
		st.Drawn += d
	}
}
