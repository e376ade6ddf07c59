package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	OpsPort      int    `env:"OPS_PORT" envDefault:"8081"`
	DatabaseURL  string `env:"DATABASE_URL,required"`
	RedisURL     string `env:"REDIS_URL,required"`
	GatewayURL   string `env:"GATEWAY_URL,required"`
	GatewayToken string `env:"GATEWAY_TOKEN"`

	ProspectRoomSubstrings []string `env:"PROSPECT_ROOM_SUBSTRINGS" envSeparator:"," envDefault:"prospect"`
	ProspectUserSubstring  string   `env:"PROSPECT_USER_SUBSTRING" envDefault:"ha(p)"`
	IgnoredDisplayNames    []string `env:"IGNORED_DISPLAY_NAMES" envSeparator:","`
	MinSessionSeconds      int      `env:"MIN_SESSION_SECONDS" envDefault:"1"`

	ReminderTickTime string `env:"REMINDER_TICK_TIME" envDefault:"09:00"`
	ReminderTimezone string `env:"REMINDER_TIMEZONE" envDefault:"UTC"`

	NotifierWebhookURL    string `env:"NOTIFIER_WEBHOOK_URL,required"`
	NotifierRatePerSecond int    `env:"NOTIFIER_RATE_PER_SECOND" envDefault:"5"`
	NotifierRetryAttempts int    `env:"NOTIFIER_RETRY_ATTEMPTS" envDefault:"3"`

	AdapterReadTimeoutMS int `env:"ADAPTER_READ_TIMEOUT_MS" envDefault:"30000"`
	AdapterBackoffCapMS  int `env:"ADAPTER_BACKOFF_CAP_MS" envDefault:"60000"`

	RetentionCompletedDays  int `env:"RETENTION_COMPLETED_DAYS" envDefault:"400"`
	RetentionDispatchMonths int `env:"RETENTION_DISPATCH_MONTHS" envDefault:"18"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) OpsAddr() string {
	return fmt.Sprintf(":%d", c.OpsPort)
}

func (c *Config) MinSession() time.Duration {
	return time.Duration(c.MinSessionSeconds) * time.Second
}

func (c *Config) AdapterReadTimeout() time.Duration {
	return time.Duration(c.AdapterReadTimeoutMS) * time.Millisecond
}

func (c *Config) AdapterBackoffCap() time.Duration {
	return time.Duration(c.AdapterBackoffCapMS) * time.Millisecond
}

func (c *Config) RetentionCompleted() time.Duration {
	return time.Duration(c.RetentionCompletedDays) * 24 * time.Hour
}

func (c *Config) RetentionDispatch() time.Duration {
	return time.Duration(c.RetentionDispatchMonths) * 31 * 24 * time.Hour
}

// TickClock returns the reminder tick time as hour and minute.
func (c *Config) TickClock() (hour, minute int, err error) {
	parts := strings.SplitN(c.ReminderTickTime, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("REMINDER_TICK_TIME must be HH:MM, got %q", c.ReminderTickTime)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("REMINDER_TICK_TIME hour out of range: %q", c.ReminderTickTime)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("REMINDER_TICK_TIME minute out of range: %q", c.ReminderTickTime)
	}
	return hour, minute, nil
}

// Location resolves the configured reminder timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.ReminderTimezone)
}

// Validate rejects any configuration the engine cannot run with.
// Configuration errors are fatal at startup only, never at runtime.
func (c *Config) Validate() error {
	if len(c.ProspectRoomSubstrings) == 0 {
		return fmt.Errorf("PROSPECT_ROOM_SUBSTRINGS must list at least one token")
	}
	for i, s := range c.ProspectRoomSubstrings {
		trimmed := strings.ToLower(strings.TrimSpace(s))
		if trimmed == "" {
			return fmt.Errorf("PROSPECT_ROOM_SUBSTRINGS contains an empty token")
		}
		c.ProspectRoomSubstrings[i] = trimmed
	}
	if strings.TrimSpace(c.ProspectUserSubstring) == "" {
		return fmt.Errorf("PROSPECT_USER_SUBSTRING must not be empty")
	}
	if c.MinSessionSeconds < 0 {
		return fmt.Errorf("MIN_SESSION_SECONDS must not be negative")
	}
	if _, _, err := c.TickClock(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("REMINDER_TIMEZONE is not a valid IANA zone: %w", err)
	}
	if c.NotifierRatePerSecond <= 0 {
		return fmt.Errorf("NOTIFIER_RATE_PER_SECOND must be positive")
	}
	if c.NotifierRetryAttempts < 0 {
		return fmt.Errorf("NOTIFIER_RETRY_ATTEMPTS must not be negative")
	}
	if c.AdapterReadTimeoutMS <= 0 {
		return fmt.Errorf("ADAPTER_READ_TIMEOUT_MS must be positive")
	}
	if c.AdapterBackoffCapMS <= 0 {
		return fmt.Errorf("ADAPTER_BACKOFF_CAP_MS must be positive")
	}
	if c.RetentionCompletedDays <= 0 || c.RetentionDispatchMonths <= 0 {
		return fmt.Errorf("retention settings must be positive")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
