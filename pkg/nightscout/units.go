package nightscout

import (
	"strconv"
	"strings"
)

// MmolFactor converts mg/dL to mmol/L.
const MmolFactor = 0.05551

// Unit names as they appear in configuration.
const (
	Mgdl  = "mg/dL"
	Mmoll = "mmol/L"
)

// ToMmol converts a mg/dL value to mmol/L.
func ToMmol(mgdl float64) float64 { return mgdl * MmolFactor }

// FormatBG renders a mg/dL value in the given units: whole numbers for
// mg/dL, one decimal for mmol/L.
func FormatBG(mgdl float64, units string) string {
	if units == Mmoll {
		return strconv.FormatFloat(ToMmol(mgdl), 'f', 1, 64)
	}
	return strconv.FormatFloat(mgdl, 'f', 0, 64)
}

// FormatDelta renders a signed glucose change in the given units.
func FormatDelta(mgdl float64, units string) string {
	var s string
	if units == Mmoll {
		s = strconv.FormatFloat(ToMmol(mgdl), 'f', 1, 64)
	} else {
		s = strconv.FormatFloat(mgdl, 'f', 0, 64)
	}
	if s == "-0" || s == "-0.0" {
		s = strings.TrimPrefix(s, "-")
	}
	if !strings.HasPrefix(s, "-") {
		s = "+" + s
	}
	return s
}
