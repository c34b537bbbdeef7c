package gcode

import "math"

// Point — координата на плоскости стола, мм.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist возвращает евклидово расстояние между точками.
func Dist(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Lerp возвращает точку на отрезке [a,b] в доле t ∈ [0,1].
func Lerp(a, b Point, t float64) Point {
	return Point{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
	}
}

// Kind задаёт тип инструкции временной шкалы.
type Kind uint8

const (
	KindMove Kind = iota + 1
	KindToolChange
	KindPenUp
	KindPenDown
	KindPump
)

func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindToolChange:
		return "toolchange"
	case KindPenUp:
		return "penup"
	case KindPenDown:
		return "pendown"
	case KindPump:
		return "pump"
	default:
		return "unknown"
	}
}

// Instruction — один атомарный шаг моторной программы с таймингом.
// После парсинга неизменяема.
type Instruction struct {
	Kind Kind

	// Move
	Start  Point
	End    Point
	Travel bool // перемещение с поднятым пером

	// ToolChange
	Tool int
	Grab bool

	Distance float64 // мм, 0 для не-Move
	Duration float64 // мс
	EndTime  float64 // мс, накопленное время завершения; неубывает по последовательности
	Line     int     // строка исходника; 0 для синтезированных инструкций
}

// Warning — нефатальная странность парсинга (неизвестная команда и т.п.).
type Warning struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Program — упорядоченная последовательность инструкций с агрегатами,
// посчитанными один раз при парсинге. Любое изменение — только перепарсинг.
type Program struct {
	Instructions []Instruction

	TotalDuration float64 // мс
	DrawingLength float64 // мм
	TravelLength  float64 // мм
	PumpCount     int
	ToolsUsed     []int // отсортированы по возрастанию
	Warnings      []Warning
}

// Empty сообщает, что в программе нет инструкций.
func (p *Program) Empty() bool {
	return p == nil || len(p.Instructions) == 0
}
