package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
)

// gen-gcode пишет детерминированную демо-программу в диалекте Archiplotter:
// спираль с переключением инструментов, пригодная для обкатки проигрывателя.

type options struct {
	out      string
	turns    int
	radius   float64
	centerX  float64
	centerY  float64
	tools    int
	feedrate float64
	penDown  float64
	penUp    float64
}

func main() {
	opts := parseFlags()
	if opts.turns < 1 {
		log.Fatal("--turns must be at least 1")
	}
	if opts.tools < 1 || opts.tools > 9 {
		log.Fatal("--tools must be in 1..9")
	}

	text := generate(opts)
	if opts.out == "-" || opts.out == "" {
		fmt.Print(text)
		return
	}
	if err := os.WriteFile(opts.out, []byte(text), 0o644); err != nil {
		log.Fatalf("write %s: %v", opts.out, err)
	}
	fmt.Printf("Demo program written to %s (%d bytes)\n", opts.out, len(text))
}

func parseFlags() options {
	var opt options
	flag.StringVar(&opt.out, "out", "-", "output file ('-' for stdout)")
	flag.IntVar(&opt.turns, "turns", 8, "spiral turns per tool")
	flag.Float64Var(&opt.radius, "radius", 120, "max spiral radius, mm")
	flag.Float64Var(&opt.centerX, "center-x", 150, "spiral center X, mm")
	flag.Float64Var(&opt.centerY, "center-y", 150, "spiral center Y, mm")
	flag.IntVar(&opt.tools, "tools", 2, "number of tool slots to cycle through (1..9)")
	flag.Float64Var(&opt.feedrate, "feedrate", 6000, "drawing feedrate, mm/min")
	flag.Float64Var(&opt.penDown, "pen-down", 13, "pen down height, mm")
	flag.Float64Var(&opt.penUp, "pen-up", 33, "pen up height, mm")
	flag.Parse()
	return opt
}

func generate(opt options) string {
	var b strings.Builder
	b.WriteString("; generated by gen-gcode\n")
	b.WriteString("G90\nG21\n")
	fmt.Fprintf(&b, "G1 F%g\n", opt.feedrate)

	const segmentsPerTurn = 36
	for tool := 1; tool <= opt.tools; tool++ {
		fmt.Fprintf(&b, "M98 P%d\n", tool)

		// Сдвигаем фазу каждой спирали, чтобы слои не сливались.
		phase := float64(tool-1) * math.Pi / float64(opt.tools)
		steps := opt.turns * segmentsPerTurn

		x, y := spiralPoint(opt, 0, steps, phase)
		fmt.Fprintf(&b, "G0 X%.3f Y%.3f\n", x, y)
		fmt.Fprintf(&b, "G1 Z%g\n", opt.penDown)
		for i := 1; i <= steps; i++ {
			x, y = spiralPoint(opt, i, steps, phase)
			fmt.Fprintf(&b, "G1 X%.3f Y%.3f\n", x, y)
		}
		fmt.Fprintf(&b, "G1 Z%g\n", opt.penUp)
		b.WriteString("M98 P0\n")
	}

	b.WriteString("G28\n")
	return b.String()
}

func spiralPoint(opt options, i, steps int, phase float64) (float64, float64) {
	t := float64(i) / float64(steps)
	angle := phase + t*float64(opt.turns)*2*math.Pi
	r := opt.radius * t
	return opt.centerX + r*math.Cos(angle), opt.centerY + r*math.Sin(angle)
}
