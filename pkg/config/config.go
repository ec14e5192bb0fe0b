package config

// Config is the root of config.toml.
type Config struct {
	General    GeneralConfig    `toml:"general"`
	Nightscout NightscoutConfig `toml:"nightscout"`
	Share      ShareConfig      `toml:"share"`
	Poll       PollConfig       `toml:"poll"`
	Collectors CollectorsConfig `toml:"collectors"`
	Thresholds ThresholdsConfig `toml:"thresholds"`
	Remote     RemoteConfig     `toml:"remote"`
	Daemon     DaemonConfig     `toml:"daemon"`
	MQTT       MQTTConfig       `toml:"mqtt"`
	Alert      AlertConfig      `toml:"alert"`
}

// GeneralConfig holds process-wide settings.
type GeneralConfig struct {
	CacheDir      string   `toml:"cache_dir"`
	LogLevel      string   `toml:"log_level"`
	Units         string   `toml:"units"`
	DataRetention Duration `toml:"data_retention"`
	SnapshotTTL   Duration `toml:"snapshot_ttl"`
}

// NightscoutConfig points at the Nightscout site being followed.
type NightscoutConfig struct {
	URL         string   `toml:"url"`
	Token       string   `toml:"token"`
	APISecret   string   `toml:"api_secret"`
	Timeout     Duration `toml:"timeout"`
	EntryCount  int      `toml:"entry_count"`
	StatusCount int      `toml:"device_status_count"`
	// RequestsPerMinute paces every request the client makes.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// ShareConfig enables the Dexcom Share fallback glucose source.
type ShareConfig struct {
	Enabled  bool     `toml:"enabled"`
	Server   string   `toml:"server"` // "us" or "eu"
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	Interval Duration `toml:"interval"`
}

// PollConfig tunes the device-status scheduler.
type PollConfig struct {
	InitialDelay Duration `toml:"initial_delay"`
	RetryDelay   Duration `toml:"retry_delay"`
}

// CollectorsConfig groups per-collector settings.
type CollectorsConfig struct {
	Glucose    CollectorConfig `toml:"glucose"`
	Careportal CollectorConfig `toml:"careportal"`
}

// CollectorConfig is the common enable/interval pair.
type CollectorConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
}

// ThresholdsConfig holds glucose ranges in mg/dL and the not-looping limit.
type ThresholdsConfig struct {
	Preset            string  `toml:"preset"`
	UrgentLow         float64 `toml:"urgent_low"`
	Low               float64 `toml:"low"`
	High              float64 `toml:"high"`
	UrgentHigh        float64 `toml:"urgent_high"`
	NotLoopingMinutes int     `toml:"not_looping_minutes"`
}

// RemoteConfig limits and presets for remote commands.
type RemoteConfig struct {
	Method        string  `toml:"method"` // "shortcuts" or "mqtt"
	MaxBolus      float64 `toml:"max_bolus"`
	MaxCarbs      float64 `toml:"max_carbs"`
	Overrides     string  `toml:"overrides"`
	TempTargets   string  `toml:"temp_targets"`
	CustomActions string  `toml:"custom_actions"`
}

// DaemonConfig locates the daemon's runtime files.
type DaemonConfig struct {
	PIDFile    string `toml:"pid_file"`
	SocketPath string `toml:"socket_path"`
	HealthFile string `toml:"health_file"`
	LogFile    string `toml:"log_file"`
	// HTTPAddr enables the HTTP/websocket API when non-empty.
	HTTPAddr string `toml:"http_addr"`
}

// MQTTConfig enables status publishing and remote dispatch over MQTT.
type MQTTConfig struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	TopicPrefix string `toml:"topic_prefix"`
}

// AlertConfig configures the not-looping mail alert.
type AlertConfig struct {
	Enabled        bool     `toml:"enabled"`
	MailgunDomain  string   `toml:"mailgun_domain"`
	MailgunAPIKey  string   `toml:"mailgun_api_key"`
	Sender         string   `toml:"sender"`
	Recipients     []string `toml:"recipients"`
	RepeatInterval Duration `toml:"repeat_interval"`
}
