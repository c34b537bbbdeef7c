package gcode

import "sort"

// Locate находит активную инструкцию для момента t (мс) и долю её
// прохождения ∈ [0,1]. Бинарный поиск по неубывающему EndTime: вызывается
// на каждом тике рендера, линейный проход недопустим.
//
// t ≤ 0 — первая инструкция с прогрессом 0; t ≥ TotalDuration — последняя
// с прогрессом 1. Для пустой программы возвращает (-1, 0).
func (p *Program) Locate(t float64) (int, float64) {
	n := len(p.Instructions)
	if n == 0 {
		return -1, 0
	}
	if t <= 0 {
		return 0, 0
	}
	if t >= p.TotalDuration {
		return n - 1, 1
	}

	i := sort.Search(n, func(i int) bool {
		return p.Instructions[i].EndTime >= t
	})
	if i >= n {
		i = n - 1
	}
	in := &p.Instructions[i]
	if in.Duration <= 0 {
		return i, 1
	}
	progress := 1 - (in.EndTime-t)/in.Duration
	if progress < 0 {
		progress = 0
	} else if progress > 1 {
		progress = 1
	}
	return i, progress
}
