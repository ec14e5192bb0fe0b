package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Glucose units accepted in [general].units.
const (
	UnitsMgdl  = "mg/dL"
	UnitsMmoll = "mmol/L"
)

// Remote command transports accepted in [remote].method.
const (
	RemoteShortcuts = "shortcuts"
	RemoteMQTT      = "mqtt"
)

// ThresholdPresetNames lists the recognised [thresholds].preset values.
var ThresholdPresetNames = []string{"standard", "tight", "pregnancy", "pediatric"}

// ThresholdPreset returns the glucose ranges for a named preset, in mg/dL.
// If the name is not recognized, the "standard" preset is returned.
func ThresholdPreset(name string) ThresholdsConfig {
	switch strings.ToLower(name) {
	case "tight":
		return tightPreset()
	case "pregnancy":
		return pregnancyPreset()
	case "pediatric":
		return pediatricPreset()
	default:
		return standardPreset()
	}
}

// standardPreset is the consensus 70-180 time-in-range band.
func standardPreset() ThresholdsConfig {
	return ThresholdsConfig{
		Preset:            "standard",
		UrgentLow:         55,
		Low:               70,
		High:              180,
		UrgentHigh:        250,
		NotLoopingMinutes: 15,
	}
}

// tightPreset is the 70-140 time-in-tight-range band.
func tightPreset() ThresholdsConfig {
	return ThresholdsConfig{
		Preset:            "tight",
		UrgentLow:         55,
		Low:               70,
		High:              140,
		UrgentHigh:        220,
		NotLoopingMinutes: 15,
	}
}

// pregnancyPreset is the 63-140 band used during pregnancy.
func pregnancyPreset() ThresholdsConfig {
	return ThresholdsConfig{
		Preset:            "pregnancy",
		UrgentLow:         54,
		Low:               63,
		High:              140,
		UrgentHigh:        200,
		NotLoopingMinutes: 15,
	}
}

// pediatricPreset widens the high side and alerts sooner on a stalled loop.
func pediatricPreset() ThresholdsConfig {
	return ThresholdsConfig{
		Preset:            "pediatric",
		UrgentLow:         55,
		Low:               70,
		High:              200,
		UrgentHigh:        300,
		NotLoopingMinutes: 10,
	}
}

// applyThresholdPreset fills every [thresholds] key the file did not set
// from the named preset, so `preset = "tight"` alone is enough.
func applyThresholdPreset(cfg *Config, md toml.MetaData) error {
	name := cfg.Thresholds.Preset
	if name == "" {
		name = "standard"
	}
	known := false
	for _, n := range ThresholdPresetNames {
		if strings.EqualFold(n, name) {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("config: unknown thresholds preset %q", name)
	}

	p := ThresholdPreset(name)
	t := &cfg.Thresholds
	t.Preset = p.Preset
	if !md.IsDefined("thresholds", "urgent_low") {
		t.UrgentLow = p.UrgentLow
	}
	if !md.IsDefined("thresholds", "low") {
		t.Low = p.Low
	}
	if !md.IsDefined("thresholds", "high") {
		t.High = p.High
	}
	if !md.IsDefined("thresholds", "urgent_high") {
		t.UrgentHigh = p.UrgentHigh
	}
	if !md.IsDefined("thresholds", "not_looping_minutes") {
		t.NotLoopingMinutes = p.NotLoopingMinutes
	}
	return nil
}
