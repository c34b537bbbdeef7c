package gcode

import (
	"errors"
	"strings"
	"testing"

	"github.com/pv/gcode-timemachine-go/pkg/config"
)

func toolsWithPump(t *testing.T, slot int, threshold float64) *config.Tools {
	t.Helper()
	tools := config.Default()
	tools.PenTypes["pumped"] = config.PenType{
		ID:                    "pumped",
		DisplayName:           "Pumped Marker",
		PenUp:                 33,
		PenDown:               13,
		PumpDistanceThreshold: threshold,
		PumpHeight:            50,
	}
	if err := tools.Assign(slot, "pumped", "#1d1d1b"); err != nil {
		t.Fatalf("assign tool: %v", err)
	}
	return tools
}

func kinds(prog *Program) []Kind {
	out := make([]Kind, len(prog.Instructions))
	for i, in := range prog.Instructions {
		out[i] = in.Kind
	}
	return out
}

func TestParseSingleMoveDuration(t *testing.T) {
	prog, err := Parse("G1 X10 Y0 F600", nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(prog.Instructions) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(prog.Instructions))
	}
	in := prog.Instructions[0]
	if in.Kind != KindMove || !in.Travel {
		t.Fatalf("expected travel move, got %s travel=%t", in.Kind, in.Travel)
	}
	// 10 мм на 600 мм/мин = 1000 мс.
	if in.Duration != 1000 {
		t.Fatalf("duration = %v, want 1000", in.Duration)
	}
	if in.Distance != 10 || in.EndTime != 1000 {
		t.Fatalf("distance/end = %v/%v, want 10/1000", in.Distance, in.EndTime)
	}
	if prog.TotalDuration != 1000 || prog.TravelLength != 10 || prog.DrawingLength != 0 {
		t.Fatalf("aggregates mismatch: %+v", prog)
	}
}

func TestParsePenStateClassifiesMoves(t *testing.T) {
	text := strings.Join([]string{
		"G90",
		"G21",
		"G1 Z13",
		"G1 X10 Y0 F600",
		"G1 Z33",
		"G1 X10 Y10",
	}, "\n")
	prog, err := Parse(text, nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := []Kind{KindPenDown, KindMove, KindPenUp, KindMove}
	got := kinds(prog)
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", got, want)
		}
	}
	if prog.Instructions[1].Travel {
		t.Fatal("move with pen down must not be travel")
	}
	if !prog.Instructions[3].Travel {
		t.Fatal("move with pen up must be travel")
	}
	if prog.DrawingLength != 10 || prog.TravelLength != 10 {
		t.Fatalf("lengths = %v/%v, want 10/10", prog.DrawingLength, prog.TravelLength)
	}
}

func TestPumpSynthesisSplitsSegment(t *testing.T) {
	tools := toolsWithPump(t, 1, 5)
	text := strings.Join([]string{
		"M98 P1",
		"G1 Z13",
		"G1 X12 Y0 F600",
	}, "\n")
	prog, err := Parse(text, tools)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	// 12 мм при пороге 5 — разрезы на 5 и 10 мм, ровно две прокачки.
	want := []Kind{
		KindToolChange, KindPenDown,
		KindMove, KindPenUp, KindPump, KindPenDown,
		KindMove, KindPenUp, KindPump, KindPenDown,
		KindMove,
	}
	got := kinds(prog)
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds[%d] = %v, want %v (%v)", i, got[i], want[i], got)
		}
	}
	if prog.PumpCount != 2 {
		t.Fatalf("PumpCount = %d, want 2", prog.PumpCount)
	}
	if prog.DrawingLength != 12 {
		t.Fatalf("DrawingLength = %v, want 12", prog.DrawingLength)
	}
	if prog.Instructions[2].End.X != 5 || prog.Instructions[6].End.X != 10 {
		t.Fatalf("split points = %v / %v, want 5 / 10",
			prog.Instructions[2].End, prog.Instructions[6].End)
	}
	if len(prog.ToolsUsed) != 1 || prog.ToolsUsed[0] != 1 {
		t.Fatalf("ToolsUsed = %v, want [1]", prog.ToolsUsed)
	}
}

func TestPumpCounterResetsOnToolChange(t *testing.T) {
	tools := toolsWithPump(t, 1, 5)
	text := strings.Join([]string{
		"M98 P1",
		"G1 Z13",
		"G1 X4 Y0 F600", // 4 мм — до порога
		"M98 P0",        // счётчик сбрасывается
		"M98 P1",
		"G1 Z13",
		"G1 X8 Y0", // ещё 4 мм от нового взятия
	}, "\n")
	prog, err := Parse(text, tools)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if prog.PumpCount != 0 {
		t.Fatalf("PumpCount = %d, want 0", prog.PumpCount)
	}
}

func TestParseFeedrateMustBePositive(t *testing.T) {
	_, err := Parse("G1 X10 Y0 F0", nil)
	var perr ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Line != 1 {
		t.Fatalf("error line = %d, want 1", perr.Line)
	}

	if _, err := Parse("G1 X10 F-200", nil); err == nil {
		t.Fatal("expected error for negative feedrate")
	}
}

func TestParseBadCoordinate(t *testing.T) {
	_, err := Parse("G1 Z13\nG1 Xabc Y0", nil)
	var perr ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Line != 2 {
		t.Fatalf("error line = %d, want 2", perr.Line)
	}
}

func TestParseUnknownCommandsBecomeWarnings(t *testing.T) {
	text := strings.Join([]string{
		"M42 P13 S1",
		"G1 X10 Y0 F600",
		"G1 U11",
		"G4 P100",
	}, "\n")
	prog, err := Parse(text, nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(prog.Instructions) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(prog.Instructions))
	}
	if len(prog.Warnings) != 3 {
		t.Fatalf("warnings = %+v, want 3 entries", prog.Warnings)
	}
	if prog.Warnings[1].Line != 3 {
		t.Fatalf("warning line = %d, want 3", prog.Warnings[1].Line)
	}
}

func TestReleaseWithoutToolIsNoop(t *testing.T) {
	prog, err := Parse("M98 P0\nM98 P\"release.g\"", nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(prog.Instructions) != 0 || len(prog.Warnings) != 0 {
		t.Fatalf("expected empty program, got %+v", prog)
	}
}

func TestMacroGrabAndRelease(t *testing.T) {
	prog, err := Parse("M98 P\"grab3.g\"\nM98 P\"release.g\"", nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(prog.Instructions) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(prog.Instructions))
	}
	grab, release := prog.Instructions[0], prog.Instructions[1]
	if grab.Kind != KindToolChange || !grab.Grab || grab.Tool != 3 {
		t.Fatalf("unexpected grab: %+v", grab)
	}
	if release.Kind != KindToolChange || release.Grab || release.Tool != 3 {
		t.Fatalf("unexpected release: %+v", release)
	}
	if len(prog.ToolsUsed) != 1 || prog.ToolsUsed[0] != 3 {
		t.Fatalf("ToolsUsed = %v, want [3]", prog.ToolsUsed)
	}
}

func TestToolNumberOutOfRange(t *testing.T) {
	if _, err := Parse("M98 P12", nil); err == nil {
		t.Fatal("expected error for tool 12")
	}
}

func TestHomingRaisesPen(t *testing.T) {
	text := strings.Join([]string{
		"G1 Z13",
		"G1 X5 Y5 F600",
		"G28",
	}, "\n")
	prog, err := Parse(text, nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	n := len(prog.Instructions)
	home := prog.Instructions[n-1]
	lift := prog.Instructions[n-2]
	if lift.Kind != KindPenUp {
		t.Fatalf("expected synthesized PenUp before homing, got %s", lift.Kind)
	}
	if home.Kind != KindMove || !home.Travel || home.End != (Point{}) {
		t.Fatalf("unexpected homing move: %+v", home)
	}
}

func TestZeroLengthMoveRetained(t *testing.T) {
	prog, err := Parse("G0 X0 Y0", nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(prog.Instructions) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(prog.Instructions))
	}
	in := prog.Instructions[0]
	if in.Distance != 0 || in.Duration != 0 {
		t.Fatalf("degenerate move must have zero distance/duration: %+v", in)
	}
}

func TestEmptyProgram(t *testing.T) {
	prog, err := Parse("", nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !prog.Empty() || prog.TotalDuration != 0 {
		t.Fatalf("expected empty program, got %+v", prog)
	}
}

func TestCumulativeTimeMonotonic(t *testing.T) {
	tools := toolsWithPump(t, 2, 7)
	text := strings.Join([]string{
		"G90",
		"M98 P2",
		"G1 Z13",
		"G1 X30 Y0 F1200",
		"G1 X30 Y15",
		"G1 Z33",
		"G0 X0 Y0",
		"M98 P0",
	}, "\n")
	prog, err := Parse(text, tools)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	prev := 0.0
	for i, in := range prog.Instructions {
		if in.EndTime < prev {
			t.Fatalf("EndTime decreased at %d: %v < %v", i, in.EndTime, prev)
		}
		prev = in.EndTime
	}
	if prev != prog.TotalDuration {
		t.Fatalf("last EndTime %v != TotalDuration %v", prev, prog.TotalDuration)
	}
	// 45 мм рисования при пороге 7: прокачки на 7..42 мм.
	if prog.PumpCount != 6 {
		t.Fatalf("PumpCount = %d, want 6", prog.PumpCount)
	}
}

func TestTrailingCommentsAndCRLF(t *testing.T) {
	prog, err := Parse("G1 X10 Y0 F600 ; kante\r\n; nur kommentar\r\n", nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(prog.Instructions) != 1 || len(prog.Warnings) != 0 {
		t.Fatalf("unexpected parse result: %+v", prog)
	}
}
