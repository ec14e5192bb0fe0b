package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	if cfg.Poll.RetryDelay.Duration != 10*time.Second {
		t.Errorf("RetryDelay = %v, want 10s", cfg.Poll.RetryDelay)
	}
	if cfg.Thresholds.NotLoopingMinutes != 15 {
		t.Errorf("NotLoopingMinutes = %d, want 15", cfg.Thresholds.NotLoopingMinutes)
	}
}

func TestLoadFromReader(t *testing.T) {
	src := `
[general]
units = "mmol/L"
data_retention = "12h"

[nightscout]
url = "https://example.herokuapp.com"
token = "reader-abc"

[poll]
initial_delay = "1s"

[collectors.careportal]
enabled = false
`
	cfg, err := LoadFromReader(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.General.Units != UnitsMmoll {
		t.Errorf("Units = %q, want %q", cfg.General.Units, UnitsMmoll)
	}
	if cfg.General.DataRetention.Duration != 12*time.Hour {
		t.Errorf("DataRetention = %v, want 12h", cfg.General.DataRetention)
	}
	if cfg.Nightscout.Token != "reader-abc" {
		t.Errorf("Token = %q", cfg.Nightscout.Token)
	}
	if cfg.Poll.InitialDelay.Duration != time.Second {
		t.Errorf("InitialDelay = %v, want 1s", cfg.Poll.InitialDelay)
	}
	// Unset keys keep their defaults.
	if cfg.Poll.RetryDelay.Duration != 10*time.Second {
		t.Errorf("RetryDelay = %v, want default 10s", cfg.Poll.RetryDelay)
	}
	if cfg.Collectors.Careportal.Enabled {
		t.Error("Careportal.Enabled = true, want false")
	}
	if !cfg.Collectors.Glucose.Enabled {
		t.Error("Glucose.Enabled = false, want default true")
	}
}

func TestLoadFromReaderRejectsNegativeDuration(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("[poll]\nretry_delay = \"-5s\"\n"))
	if err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestThresholdPresetFillsUnsetKeys(t *testing.T) {
	src := `
[thresholds]
preset = "tight"
low = 75
`
	cfg, err := LoadFromReader(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Thresholds.High != 140 {
		t.Errorf("High = %v, want 140 from tight preset", cfg.Thresholds.High)
	}
	if cfg.Thresholds.Low != 75 {
		t.Errorf("Low = %v, want explicit 75", cfg.Thresholds.Low)
	}
}

func TestThresholdPresetUnknown(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("[thresholds]\npreset = \"nope\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestThresholdPresetFallback(t *testing.T) {
	if got := ThresholdPreset("whatever"); got.Preset != "standard" {
		t.Errorf("ThresholdPreset(unknown).Preset = %q, want standard", got.Preset)
	}
	for _, name := range ThresholdPresetNames {
		p := ThresholdPreset(name)
		if !(p.UrgentLow < p.Low && p.Low < p.High && p.High < p.UrgentHigh) {
			t.Errorf("preset %q is not ordered: %+v", name, p)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NIGHTSCOUT_URL", "https://env.example.org")
	t.Setenv("NIGHTSCOUT_API_SECRET", "hunter2hunter2")
	t.Setenv("LOOPPULSE_UNITS", "mmol/L")
	t.Setenv("MQTT_PASSWORD", "pw")

	cfg, err := LoadFromReader(strings.NewReader(`[nightscout]
url = "https://file.example.org"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Nightscout.URL != "https://env.example.org" {
		t.Errorf("URL = %q, want env override", cfg.Nightscout.URL)
	}
	if cfg.Nightscout.APISecret != "hunter2hunter2" {
		t.Errorf("APISecret = %q", cfg.Nightscout.APISecret)
	}
	if cfg.General.Units != UnitsMmoll {
		t.Errorf("Units = %q", cfg.General.Units)
	}
	if cfg.MQTT.Password != "pw" {
		t.Errorf("MQTT.Password = %q", cfg.MQTT.Password)
	}
}

func TestLoadFromFileDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("DEXCOM_USERNAME", "")
	os.Unsetenv("DEXCOM_USERNAME")

	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[share]\nserver = \"eu\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DEXCOM_USERNAME=follower\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("DEXCOM_USERNAME") })

	if cfg.Share.Server != "eu" {
		t.Errorf("Server = %q, want eu", cfg.Share.Server)
	}
	if cfg.Share.Username != "follower" {
		t.Errorf("Username = %q, want value from .env", cfg.Share.Username)
	}
}

func TestLoadFromFileBadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[share]\nserver = \"eu\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DEXCOM-USERNAME=follower\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFromFile(path)
	if err == nil || !strings.Contains(err.Error(), ".env") {
		t.Fatalf("LoadFromFile err = %v, want the .env parse error", err)
	}
}

func TestLoadFromFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Remote.Method != RemoteShortcuts {
		t.Errorf("Remote.Method = %q, want default", cfg.Remote.Method)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Nightscout.URL = "ftp://nope"
	cfg.General.Units = "mg"
	cfg.Thresholds.Low = 300
	cfg.Remote.Method = "sms"
	cfg.MQTT.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"nightscout.url", "general.units", "thresholds", "remote.method", "mqtt.broker"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateRemoteMQTTNeedsBroker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.Method = RemoteMQTT
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "requires [mqtt]") {
		t.Errorf("Validate() = %v, want mqtt requirement", err)
	}
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = "tcp://localhost:1883"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestDurationOr(t *testing.T) {
	if got := (Duration{}).Or(time.Minute); got != time.Minute {
		t.Errorf("zero.Or = %v, want 1m", got)
	}
	if got := (Duration{time.Second}).Or(time.Minute); got != time.Second {
		t.Errorf("1s.Or = %v, want 1s", got)
	}
}
