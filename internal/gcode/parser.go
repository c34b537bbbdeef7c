package gcode

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pv/gcode-timemachine-go/pkg/config"
)

const (
	// Модальная подача по умолчанию, мм/мин. Постпроцессор Archiplotter
	// всегда завершает программу командой G1 F6000.
	defaultFeedrate = 6000.0
	// Подача оси Z (подъём/опускание пера), мм/мин.
	zFeedrate = 3000.0
	// Подача хода прокачки, мм/мин.
	pumpFeedrate = 3000.0
	// Фиксированная длительность смены инструмента, мс.
	toolChangeDurationMS = 3000.0

	// Высоты пера, когда слот инструмента не сконфигурирован.
	defaultPenUp   = 33.0
	defaultPenDown = 13.0

	distEps = 1e-9
)

// ParseError — фатальная ошибка разбора моторной команды.
type ParseError struct {
	Line   int
	Reason string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("gcode: line %d: %s", e.Line, e.Reason)
}

var macroGrabRe = regexp.MustCompile(`^grab([1-9])\.g$`)

// parser накапливает инструкции, отслеживая текущий инструмент, состояние
// пера и позицию — тот же контекст, который позже восстанавливает Replayer,
// но однопроходно.
type parser struct {
	tools *config.Tools

	instrs   []Instruction
	warnings []Warning

	pos       Point
	penDown   bool
	tool      int // 0 — инструмент не взят
	feedrate  float64
	clock     float64 // мс
	sincePump float64 // мм рисования с последней прокачки
	toolsUsed map[int]struct{}
}

// Parse превращает текст моторной программы в Program.
// Неизвестные команды пропускаются и собираются в Warnings; неразборная
// координата или некорректная подача — ParseError.
func Parse(text string, tools *config.Tools) (*Program, error) {
	if tools == nil {
		tools = config.Default()
	}
	p := &parser{
		tools:     tools,
		feedrate:  defaultFeedrate,
		toolsUsed: map[int]struct{}{},
	}

	for i, raw := range strings.Split(text, "\n") {
		line := i + 1
		if err := p.handleLine(raw, line); err != nil {
			return nil, err
		}
	}
	return p.finish(), nil
}

func (p *parser) handleLine(raw string, line int) error {
	if idx := strings.IndexByte(raw, ';'); idx >= 0 {
		raw = raw[:idx]
	}
	fields := strings.Fields(strings.TrimSuffix(raw, "\r"))
	if len(fields) == 0 {
		return nil
	}

	switch cmd := strings.ToUpper(fields[0]); cmd {
	case "G0", "G1":
		return p.handleMove(fields[1:], line)
	case "G28":
		return p.handleHoming(line)
	case "M98":
		return p.handleMacroCall(fields[1:], line)
	case "G90", "G91", "G21", "G92", "M226":
		// Режимы координат, паузы и пр. не влияют на модель шкалы.
		return nil
	default:
		p.warn(line, fmt.Sprintf("unknown command %q skipped", fields[0]))
		return nil
	}
}

func (p *parser) handleMove(args []string, line int) error {
	var x, y, z, f float64
	var hasX, hasY, hasZ, hasF, hasU bool

	for _, w := range args {
		letter := w[0]
		if letter >= 'a' && letter <= 'z' {
			letter -= 'a' - 'A'
		}
		switch letter {
		case 'X', 'Y', 'Z', 'F':
			val, err := strconv.ParseFloat(w[1:], 64)
			if err != nil {
				return ParseError{Line: line, Reason: fmt.Sprintf("bad %c word %q", letter, w)}
			}
			switch letter {
			case 'X':
				x, hasX = val, true
			case 'Y':
				y, hasY = val, true
			case 'Z':
				z, hasZ = val, true
			case 'F':
				f, hasF = val, true
			}
		case 'U':
			// Ход прокачки, вписанный постпроцессором: свои прокачки
			// парсер синтезирует сам по порогу инструмента.
			hasU = true
		default:
			p.warn(line, fmt.Sprintf("ignored word %q", w))
		}
	}

	if hasF {
		if f <= 0 {
			return ParseError{Line: line, Reason: fmt.Sprintf("feedrate must be positive, got %g", f)}
		}
		p.feedrate = f
	}

	if hasZ {
		p.emitPenTransition(z, line)
	}
	switch {
	case hasX || hasY:
		end := p.pos
		if hasX {
			end.X = x
		}
		if hasY {
			end.Y = y
		}
		p.emitMove(end, line)
	case hasU && !hasZ:
		p.warn(line, "manual pump stroke ignored")
	}
	return nil
}

func (p *parser) handleHoming(line int) error {
	p.raisePen(line)
	p.emitMove(Point{}, line)
	return nil
}

func (p *parser) handleMacroCall(args []string, line int) error {
	if len(args) == 0 {
		return ParseError{Line: line, Reason: "M98 requires a P parameter"}
	}
	arg := args[0]
	if arg[0] != 'P' && arg[0] != 'p' {
		return ParseError{Line: line, Reason: fmt.Sprintf("M98 expects P parameter, got %q", arg)}
	}
	val := strings.Trim(arg[1:], `"`)

	if n, err := strconv.Atoi(val); err == nil {
		if n == 0 {
			p.releaseTool(line)
			return nil
		}
		if n < 1 || n > config.MaxToolSlot {
			return ParseError{Line: line, Reason: fmt.Sprintf("tool number %d out of range 1..%d", n, config.MaxToolSlot)}
		}
		p.grabTool(n, line)
		return nil
	}

	name := strings.ToLower(val)
	if m := macroGrabRe.FindStringSubmatch(name); m != nil {
		n, _ := strconv.Atoi(m[1])
		p.grabTool(n, line)
		return nil
	}
	if name == "release.g" || name == "release" {
		p.releaseTool(line)
		return nil
	}
	p.warn(line, fmt.Sprintf("unknown macro %q skipped", val))
	return nil
}

func (p *parser) grabTool(n, line int) {
	p.raisePen(line)
	p.append(Instruction{
		Kind:     KindToolChange,
		Tool:     n,
		Grab:     true,
		Duration: toolChangeDurationMS,
		Line:     line,
	})
	p.tool = n
	p.toolsUsed[n] = struct{}{}
	p.sincePump = 0
}

func (p *parser) releaseTool(line int) {
	if p.tool == 0 {
		// Отпускание без взятого инструмента — допустимый no-op.
		return
	}
	p.raisePen(line)
	p.append(Instruction{
		Kind:     KindToolChange,
		Tool:     p.tool,
		Duration: toolChangeDurationMS,
		Line:     line,
	})
	p.tool = 0
	p.sincePump = 0
}

// emitPenTransition классифицирует Z-ход: на высоте опускания активного
// инструмента и ниже — PenDown, иначе PenUp.
func (p *parser) emitPenTransition(z float64, line int) {
	up, down := p.penHeights()
	want := z <= down
	kind := KindPenUp
	if want {
		kind = KindPenDown
	}
	p.append(Instruction{
		Kind:     kind,
		Duration: strokeDuration(up-down, zFeedrate),
		Line:     line,
	})
	p.penDown = want
}

// raisePen синтезирует PenUp перед операцией, требующей поднятого пера.
func (p *parser) raisePen(line int) {
	if !p.penDown {
		return
	}
	up, down := p.penHeights()
	p.append(Instruction{
		Kind:     KindPenUp,
		Duration: strokeDuration(up-down, zFeedrate),
		Line:     line,
	})
	p.penDown = false
}

// emitMove добавляет линейное перемещение в end, при рисовании разрезая
// его в точках срабатывания порога прокачки.
func (p *parser) emitMove(end Point, line int) {
	start := p.pos
	total := Dist(start, end)
	travel := !p.penDown

	if total <= distEps {
		// Вырожденный сегмент сохраняется с нулевой длительностью.
		p.appendMove(start, end, travel, line)
		p.pos = end
		return
	}

	threshold := p.pumpThreshold()
	ux := (end.X - start.X) / total
	uy := (end.Y - start.Y) / total

	cur := start
	remaining := total
	for !travel && threshold > 0 && p.sincePump+remaining >= threshold-distEps {
		need := threshold - p.sincePump
		cut := Point{X: cur.X + ux*need, Y: cur.Y + uy*need}
		p.appendMove(cur, cut, false, line)
		p.emitPumpCycle(line)
		p.sincePump = 0
		cur = cut
		remaining -= need
	}
	if remaining > distEps {
		p.appendMove(cur, end, travel, line)
		if !travel {
			p.sincePump += remaining
		}
	}
	p.pos = end
}

// emitPumpCycle вставляет цикл обслуживания: подъём пера, прокачка,
// опускание. Длительность прокачки — двойной ход на pump_height.
func (p *parser) emitPumpCycle(line int) {
	up, down := p.penHeights()
	lift := strokeDuration(up-down, zFeedrate)

	pumpHeight := 50.0
	if cfg := p.tools.Slot(p.tool); cfg != nil {
		pumpHeight = cfg.PenType.PumpHeight
	}

	p.append(Instruction{Kind: KindPenUp, Duration: lift, Line: line})
	p.append(Instruction{Kind: KindPump, Duration: strokeDuration(2*pumpHeight, pumpFeedrate), Line: line})
	p.append(Instruction{Kind: KindPenDown, Duration: lift, Line: line})
}

func (p *parser) appendMove(from, to Point, travel bool, line int) {
	d := Dist(from, to)
	p.append(Instruction{
		Kind:     KindMove,
		Start:    from,
		End:      to,
		Travel:   travel,
		Distance: d,
		Duration: d / p.feedrate * 60000,
		Line:     line,
	})
}

func (p *parser) append(in Instruction) {
	p.clock += in.Duration
	in.EndTime = p.clock
	p.instrs = append(p.instrs, in)
}

func (p *parser) warn(line int, text string) {
	p.warnings = append(p.warnings, Warning{Line: line, Text: text})
}

func (p *parser) penHeights() (up, down float64) {
	if cfg := p.tools.Slot(p.tool); cfg != nil {
		return cfg.PenType.PenUp, cfg.PenType.PenDown
	}
	return defaultPenUp, defaultPenDown
}

func (p *parser) pumpThreshold() float64 {
	if cfg := p.tools.Slot(p.tool); cfg != nil {
		return cfg.PenType.PumpDistanceThreshold
	}
	return 0
}

func (p *parser) finish() *Program {
	prog := &Program{
		Instructions: p.instrs,
		Warnings:     p.warnings,
	}

	prev := 0.0
	for i := range p.instrs {
		in := &p.instrs[i]
		if in.EndTime < prev {
			// Нарушение инварианта шкалы — ошибка логики, не входных данных.
			panic(fmt.Sprintf("gcode: non-monotonic cumulative time at instruction %d", i))
		}
		prev = in.EndTime

		switch in.Kind {
		case KindMove:
			if in.Travel {
				prog.TravelLength += in.Distance
			} else {
				prog.DrawingLength += in.Distance
			}
		case KindPump:
			prog.PumpCount++
		}
	}
	prog.TotalDuration = prev

	prog.ToolsUsed = make([]int, 0, len(p.toolsUsed))
	for n := range p.toolsUsed {
		prog.ToolsUsed = append(prog.ToolsUsed, n)
	}
	sort.Ints(prog.ToolsUsed)
	return prog
}

func strokeDuration(lengthMM, feedrate float64) float64 {
	if lengthMM < 0 {
		lengthMM = -lengthMM
	}
	return lengthMM / feedrate * 60000
}
