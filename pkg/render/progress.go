package render

import (
	"math"
	"strings"
)

const (
	// FilledCell marks completed progress.
	FilledCell = "█"
	// EmptyCell marks remaining progress.
	EmptyCell = "░"
)

// ProgressBar renders value/max as length cells.
//
// In run mode the first round(value/max*length) cells are filled.
// In point mode a single cell is filled at the scaled position; a position
// that rounds to zero is moved to the first cell so the bar is never empty.
func ProgressBar(value, max float64, length int, pointMode bool) string {
	if length <= 0 {
		return ""
	}
	if max <= 0 || math.IsNaN(value) {
		value, max = 0, 1
	}

	pos := int(math.Round(value / max * float64(length)))
	pos = clamp(pos, 0, length)

	var sb strings.Builder
	if pointMode {
		if pos == 0 {
			pos = 1
		}
		sb.WriteString(strings.Repeat(EmptyCell, pos-1))
		sb.WriteString(FilledCell)
		sb.WriteString(strings.Repeat(EmptyCell, length-pos))
		return sb.String()
	}

	sb.WriteString(strings.Repeat(FilledCell, pos))
	sb.WriteString(strings.Repeat(EmptyCell, length-pos))
	return sb.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
