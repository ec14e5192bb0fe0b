package components

import (
	"math"
	"strings"
)

// Sparkline block characters: 8 vertical levels per cell.
var sparkBlocks = [8]rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// predictionMark separates measured values from the prediction tail.
const predictionMark = '┊'

// Sparkline draws glucose history as one line of block characters, each
// cell coloured by its range, followed by a dim prediction tail.
type Sparkline struct {
	Thresholds Thresholds
	// MaxPredictionShare caps the tail at this fraction of the width.
	// Zero means one third.
	MaxPredictionShare float64
	// Plain disables colour, for non-terminal output and tests.
	Plain bool
}

// NewSparkline returns a sparkline using t for colouring and scaling.
func NewSparkline(t Thresholds) *Sparkline {
	return &Sparkline{Thresholds: t}
}

// Render draws history and prediction (both mg/dL, oldest first) in width
// cells. The most recent values win when there is not enough room.
func (s *Sparkline) Render(history, prediction []float64, width int) string {
	if width <= 0 || (len(history) == 0 && len(prediction) == 0) {
		return ""
	}

	share := s.MaxPredictionShare
	if share <= 0 {
		share = 1.0 / 3
	}
	predCells := 0
	if len(prediction) > 0 {
		predCells = min(len(prediction), int(float64(width)*share))
		if len(history) == 0 {
			predCells = min(len(prediction), width-1)
		}
	}
	histCells := width - predCells
	if predCells > 0 {
		histCells-- // separator
	}
	hist := lastN(history, max(histCells, 0))
	pred := prediction[:predCells]

	lo, hi := sparkAutoRange(append(append([]float64{}, hist...), pred...))
	lo = math.Min(lo, s.Thresholds.Low)
	hi = math.Max(hi, s.Thresholds.High)

	var b strings.Builder
	for _, v := range hist {
		b.WriteString(s.cell(v, lo, hi, false))
	}
	if predCells > 0 {
		if len(hist) > 0 {
			b.WriteString(s.paint(string(predictionMark), ColorDim))
		}
		for _, v := range pred {
			b.WriteString(s.cell(v, lo, hi, true))
		}
	}
	return b.String()
}

func (s *Sparkline) cell(v, lo, hi float64, predicted bool) string {
	block := string(sparkBlock(v, lo, hi))
	if predicted {
		if s.Plain {
			return block
		}
		return Dim(Colorize(block, s.Thresholds.Classify(v).Color()))
	}
	return s.paint(block, s.Thresholds.Classify(v).Color())
}

func (s *Sparkline) paint(text, hex string) string {
	if s.Plain {
		return text
	}
	return Colorize(text, hex)
}

func lastN(v []float64, n int) []float64 {
	if len(v) > n {
		return v[len(v)-n:]
	}
	return v
}

// sparkAutoRange finds the min and max values in a data slice.
func sparkAutoRange(data []float64) (minY, maxY float64) {
	if len(data) == 0 {
		return 0, 0
	}
	minY, maxY = data[0], data[0]
	for _, v := range data[1:] {
		minY = math.Min(minY, v)
		maxY = math.Max(maxY, v)
	}
	return minY, maxY
}

// sparkBlock maps v into one of the eight block heights.
func sparkBlock(v, minY, maxY float64) rune {
	rangeY := maxY - minY
	if rangeY <= 0 {
		return sparkBlocks[3]
	}
	n := (v - minY) / rangeY
	n = math.Max(0, math.Min(1, n))
	return sparkBlocks[int(math.Round(n*7))]
}
