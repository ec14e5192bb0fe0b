package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const appName = "loop-pulse"

// Load reads configuration from the standard config path.
// Search order:
//  1. $XDG_CONFIG_HOME/loop-pulse/config.toml
//  2. ~/.config/loop-pulse/config.toml
//
// If no file exists, returns DefaultConfig() with environment overrides.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return LoadFromFile(p)
		}
	}
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader reads configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := applyThresholdPreset(cfg, md); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	cacheDir := filepath.Join(xdgCacheHome(home), appName)

	return &Config{
		General: GeneralConfig{
			CacheDir:      cacheDir,
			LogLevel:      "info",
			Units:         UnitsMgdl,
			DataRetention: Duration{24 * time.Hour},
			SnapshotTTL:   Duration{15 * time.Minute},
		},
		Nightscout: NightscoutConfig{
			Timeout:           Duration{15 * time.Second},
			EntryCount:        36,
			StatusCount:       1,
			RequestsPerMinute: 30,
		},
		Share: ShareConfig{
			Server:   "us",
			Interval: Duration{5 * time.Minute},
		},
		Poll: PollConfig{
			InitialDelay: Duration{2 * time.Second},
			RetryDelay:   Duration{10 * time.Second},
		},
		Collectors: CollectorsConfig{
			Glucose: CollectorConfig{
				Enabled:  true,
				Interval: Duration{60 * time.Second},
			},
			Careportal: CollectorConfig{
				Enabled:  true,
				Interval: Duration{10 * time.Minute},
			},
		},
		Thresholds: ThresholdPreset("standard"),
		Remote: RemoteConfig{
			Method:   RemoteShortcuts,
			MaxBolus: 1.0,
			MaxCarbs: 30,
		},
		Daemon: DaemonConfig{
			PIDFile:    filepath.Join(cacheDir, "daemon.pid"),
			SocketPath: filepath.Join(cacheDir, "daemon.sock"),
			HealthFile: filepath.Join(cacheDir, "health.json"),
			LogFile:    filepath.Join(cacheDir, "daemon.log"),
		},
		MQTT: MQTTConfig{
			ClientID:    appName,
			TopicPrefix: appName,
		},
		Alert: AlertConfig{
			RepeatInterval: Duration{30 * time.Minute},
		},
	}
}

// loadDotEnv populates the process environment from .env files without
// overriding variables that are already set. Missing files are skipped; a
// file that exists but cannot be parsed is an error.
func loadDotEnv(extra ...string) error {
	home, _ := os.UserHomeDir()
	files := append([]string{".env", filepath.Join(xdgConfigHome(home), appName, ".env")}, extra...)
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// applyEnvOverrides checks environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NIGHTSCOUT_URL"); v != "" {
		cfg.Nightscout.URL = v
	}
	if v := os.Getenv("NIGHTSCOUT_TOKEN"); v != "" {
		cfg.Nightscout.Token = v
	}
	if v := os.Getenv("NIGHTSCOUT_API_SECRET"); v != "" {
		cfg.Nightscout.APISecret = v
	}
	if v := os.Getenv("DEXCOM_USERNAME"); v != "" {
		cfg.Share.Username = v
	}
	if v := os.Getenv("DEXCOM_PASSWORD"); v != "" {
		cfg.Share.Password = v
	}
	if v := os.Getenv("MAILGUN_API_KEY"); v != "" {
		cfg.Alert.MailgunAPIKey = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("LOOPPULSE_UNITS"); v != "" {
		cfg.General.Units = v
	}
	if v := os.Getenv("LOOPPULSE_LOG_LEVEL"); v != "" {
		cfg.General.LogLevel = strings.ToLower(v)
	}
}

// configSearchPaths returns the ordered list of config file paths to try.
func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	var paths []string

	xdg := xdgConfigHome(home)
	paths = append(paths, filepath.Join(xdg, appName, "config.toml"))

	// If XDG_CONFIG_HOME was explicitly set, also try the fallback default.
	defaultXDG := filepath.Join(home, ".config")
	if xdg != defaultXDG {
		paths = append(paths, filepath.Join(defaultXDG, appName, "config.toml"))
	}

	return paths
}

// xdgConfigHome returns XDG_CONFIG_HOME or ~/.config as fallback.
func xdgConfigHome(home string) string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".config")
}

// xdgCacheHome returns XDG_CACHE_HOME or ~/.cache as fallback.
func xdgCacheHome(home string) string {
	if v := os.Getenv("XDG_CACHE_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".cache")
}
