package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate reports every problem found in cfg, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if c.Nightscout.URL != "" {
		u, err := url.Parse(c.Nightscout.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("nightscout.url %q must be an http(s) URL", c.Nightscout.URL))
		}
	}
	if c.Nightscout.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("nightscout.requests_per_minute must not be negative"))
	}

	switch c.General.Units {
	case UnitsMgdl, UnitsMmoll:
	default:
		errs = append(errs, fmt.Errorf("general.units %q must be %q or %q", c.General.Units, UnitsMgdl, UnitsMmoll))
	}
	switch strings.ToLower(c.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("general.log_level %q is not a slog level", c.General.LogLevel))
	}

	if c.Poll.RetryDelay.Duration <= 0 {
		errs = append(errs, fmt.Errorf("poll.retry_delay must be positive"))
	}
	for name, cc := range map[string]CollectorConfig{
		"glucose":    c.Collectors.Glucose,
		"careportal": c.Collectors.Careportal,
	} {
		if cc.Enabled && cc.Interval.Duration <= 0 {
			errs = append(errs, fmt.Errorf("collectors.%s.interval must be positive", name))
		}
	}

	t := c.Thresholds
	if !(t.UrgentLow < t.Low && t.Low < t.High && t.High < t.UrgentHigh) {
		errs = append(errs, fmt.Errorf("thresholds must satisfy urgent_low < low < high < urgent_high"))
	}
	if t.NotLoopingMinutes <= 0 {
		errs = append(errs, fmt.Errorf("thresholds.not_looping_minutes must be positive"))
	}

	switch c.Remote.Method {
	case RemoteShortcuts:
	case RemoteMQTT:
		if !c.MQTT.Enabled {
			errs = append(errs, fmt.Errorf("remote.method %q requires [mqtt] enabled", RemoteMQTT))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.method %q must be %q or %q", c.Remote.Method, RemoteShortcuts, RemoteMQTT))
	}
	if c.Remote.MaxBolus < 0 || c.Remote.MaxCarbs < 0 {
		errs = append(errs, fmt.Errorf("remote limits must not be negative"))
	}

	if c.Share.Enabled {
		if s := strings.ToLower(c.Share.Server); s != "us" && s != "eu" {
			errs = append(errs, fmt.Errorf("share.server %q must be \"us\" or \"eu\"", c.Share.Server))
		}
		if c.Share.Username == "" || c.Share.Password == "" {
			errs = append(errs, fmt.Errorf("share requires username and password"))
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}
	if c.Alert.Enabled {
		if c.Alert.MailgunDomain == "" || c.Alert.MailgunAPIKey == "" || len(c.Alert.Recipients) == 0 {
			errs = append(errs, fmt.Errorf("alert requires mailgun_domain, mailgun_api_key and recipients"))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
}
