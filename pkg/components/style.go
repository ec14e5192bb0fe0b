package components

import (
	"fmt"
	"strconv"
	"strings"
)

// Hex colours shared by the TUI and the prompt segment.
const (
	ColorUrgent  = "#EF4444"
	ColorHigh    = "#F59E0B"
	ColorInRange = "#10B981"
	ColorLow     = "#F97316"
	ColorDim     = "#6B7280"
	ColorAccent  = "#A78BFA"
)

// Thresholds are glucose range limits in mg/dL.
type Thresholds struct {
	UrgentLow  float64
	Low        float64
	High       float64
	UrgentHigh float64
}

// DefaultThresholds matches the "standard" config preset.
var DefaultThresholds = Thresholds{UrgentLow: 55, Low: 70, High: 180, UrgentHigh: 250}

// Range classifies a glucose value.
type Range int

const (
	RangeUnknown Range = iota
	RangeUrgentLow
	RangeLow
	RangeInRange
	RangeHigh
	RangeUrgentHigh
)

// Classify places mgdl in a range. Non-positive values are unknown.
func (t Thresholds) Classify(mgdl float64) Range {
	switch {
	case mgdl <= 0:
		return RangeUnknown
	case mgdl < t.UrgentLow:
		return RangeUrgentLow
	case mgdl < t.Low:
		return RangeLow
	case mgdl <= t.High:
		return RangeInRange
	case mgdl <= t.UrgentHigh:
		return RangeHigh
	default:
		return RangeUrgentHigh
	}
}

// Color returns the range's hex colour.
func (r Range) Color() string {
	switch r {
	case RangeUrgentLow, RangeUrgentHigh:
		return ColorUrgent
	case RangeLow:
		return ColorLow
	case RangeInRange:
		return ColorInRange
	case RangeHigh:
		return ColorHigh
	default:
		return ColorDim
	}
}

// Color produces an ANSI true-colour foreground escape from "#RRGGBB" or
// "RRGGBB". Malformed input yields "".
func Color(hex string) string {
	r, g, b, ok := parseHex(hex)
	if !ok {
		return ""
	}
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm", r, g, b)
}

// Colorize wraps s in the foreground colour and a reset.
func Colorize(s, hex string) string {
	fg := Color(hex)
	if fg == "" || s == "" {
		return s
	}
	return fg + s + Reset()
}

// Bold wraps s in ANSI bold.
func Bold(s string) string {
	return "\x1b[1m" + s + "\x1b[22m"
}

// Dim wraps s in ANSI faint.
func Dim(s string) string {
	return "\x1b[2m" + s + "\x1b[22m"
}

// Reset clears all styling.
func Reset() string {
	return "\x1b[0m"
}

func parseHex(hex string) (r, g, b uint8, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), true
}
