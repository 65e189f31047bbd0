package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	apperrors "github.com/arlberg/backstop/internal/errors"
	"github.com/arlberg/backstop/internal/logger"
)

// Config is loaded once at startup and treated as immutable for the process
// lifetime. Every cadence and path is validated eagerly; a bad value fails
// startup instead of failing silently at first firing.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Files         FilesConfig         `mapstructure:"files"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Log           LogConfig           `mapstructure:"log"`
}

// Retention counts are expressed in units of their tier: Daily is days,
// Weekly is ISO weeks, Monthly is calendar months.
type Retention struct {
	Daily   int `mapstructure:"daily"`
	Weekly  int `mapstructure:"weekly"`
	Monthly int `mapstructure:"monthly"`
}

func (r Retention) IsZero() bool {
	return r.Daily == 0 && r.Weekly == 0 && r.Monthly == 0
}

type DatabaseConfig struct {
	Enabled         bool      `mapstructure:"enabled"`
	Engine          string    `mapstructure:"engine"` // sqlite | postgres | mysql
	Path            string    `mapstructure:"path"`   // embedded engines
	DSN             string    `mapstructure:"dsn"`    // client-server engines
	Host            string    `mapstructure:"host"`
	Port            int       `mapstructure:"port"`
	User            string    `mapstructure:"user"`
	Password        string    `mapstructure:"password"`
	Name            string    `mapstructure:"name"`
	Schedule        string    `mapstructure:"schedule"`
	CleanupSchedule string    `mapstructure:"cleanup_schedule"`
	Compress        bool      `mapstructure:"compress"`
	Retention       Retention `mapstructure:"retention"`
}

type FilesConfig struct {
	Enabled         bool      `mapstructure:"enabled"`
	Schedule        string    `mapstructure:"schedule"`
	CleanupSchedule string    `mapstructure:"cleanup_schedule"`
	Directories     []string  `mapstructure:"directories"`
	Exclusions      []string  `mapstructure:"exclusions"`
	Compress        bool      `mapstructure:"compress"`
	Retention       Retention `mapstructure:"retention"`
}

type StorageConfig struct {
	Local LocalStorageConfig `mapstructure:"local"`
}

type LocalStorageConfig struct {
	Path string `mapstructure:"path"`
}

type NotificationsConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	OnSuccess bool          `mapstructure:"on_success"`
	OnFailure bool          `mapstructure:"on_failure"`
	Slack     SlackConfig   `mapstructure:"slack"`
	Webhook   WebhookConfig `mapstructure:"webhook"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

type WebhookConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	JSON    bool `mapstructure:"json"`
	NoColor bool `mapstructure:"no_color"`
	Debug   bool `mapstructure:"debug"`
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("backstop")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".backstop"))
		}
	}

	v.SetEnvPrefix("BACKSTOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.engine", "sqlite")
	v.SetDefault("database.schedule", "0 2 * * *")
	v.SetDefault("database.cleanup_schedule", "0 4 * * *")
	v.SetDefault("database.compress", true)
	v.SetDefault("database.retention.daily", 7)
	v.SetDefault("database.retention.weekly", 4)
	v.SetDefault("database.retention.monthly", 12)
	v.SetDefault("files.enabled", true)
	v.SetDefault("files.schedule", "0 3 * * *")
	v.SetDefault("files.cleanup_schedule", "30 4 * * *")
	v.SetDefault("files.compress", true)
	v.SetDefault("storage.local.path", "./backups")
	v.SetDefault("notifications.on_failure", true)

	return v
}

// Load reads, unmarshals, and validates the configuration. A missing file is
// fine when no explicit path was given; defaults then apply.
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, apperrors.Wrap(err, apperrors.TypeConfig, "failed to read config file", "Check the --config path.")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "failed to unmarshal config", "")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-reads the file on change and hands the result to onChange. Invalid
// edits are reported as errors and never replace a running configuration.
func Watch(configPath string, l *logger.Logger, onChange func(*Config)) {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			l.Warn("ignoring config change, unmarshal failed", "file", e.Name, "error", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			l.Warn("ignoring config change, validation failed", "file", e.Name, "error", err)
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
}

func (c *Config) Validate() error {
	if c.Storage.Local.Path == "" {
		return apperrors.New(apperrors.TypeConfig, "storage.local.path is empty", "Point it at the directory artifacts should be written to.")
	}

	if c.Database.Enabled {
		if err := validateCadence("database.schedule", c.Database.Schedule); err != nil {
			return err
		}
		if err := validateCadence("database.cleanup_schedule", c.Database.CleanupSchedule); err != nil {
			return err
		}
		switch strings.ToLower(c.Database.Engine) {
		case "sqlite", "sqlite3":
			if c.Database.Path == "" {
				return apperrors.New(apperrors.TypeConfig, "database.path is required for sqlite", "Set it to the embedded store's backing file.")
			}
		case "postgres", "postgresql", "mysql", "mariadb":
			if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "") {
				return apperrors.New(apperrors.TypeConfig, "database connection is incomplete", "Set database.dsn or host, user, and name.")
			}
		default:
			return apperrors.New(apperrors.TypeConfig, fmt.Sprintf("unsupported database engine %q", c.Database.Engine), "Supported engines: sqlite, postgres, mysql.")
		}
		if err := validateRetention("database.retention", c.Database.Retention); err != nil {
			return err
		}
	}

	if c.Files.Enabled {
		if err := validateCadence("files.schedule", c.Files.Schedule); err != nil {
			return err
		}
		if err := validateCadence("files.cleanup_schedule", c.Files.CleanupSchedule); err != nil {
			return err
		}
		if len(c.Files.Directories) == 0 {
			return apperrors.New(apperrors.TypeConfig, "files.directories is empty", "List at least one directory to back up, or disable the files job.")
		}
		for _, pattern := range c.Files.Exclusions {
			if _, err := filepath.Match(pattern, "probe"); err != nil {
				return apperrors.Wrap(err, apperrors.TypeConfig, fmt.Sprintf("invalid exclusion pattern %q", pattern), "Exclusions use filepath glob syntax.")
			}
		}
		if err := validateRetention("files.retention", c.Files.Retention); err != nil {
			return err
		}
	}

	return nil
}

// FilesRetention resolves the retention policy applied to file artifacts.
// When no files-specific policy is configured, the database daily tier
// applies, matching the behavior this engine replaced.
func (c *Config) FilesRetention() Retention {
	if c.Files.Retention.IsZero() {
		return Retention{Daily: c.Database.Retention.Daily}
	}
	return c.Files.Retention
}

func validateCadence(field, spec string) error {
	if spec == "" {
		return apperrors.New(apperrors.TypeConfig, field+" is empty", "Provide a cron expression, e.g. \"0 2 * * *\".")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return apperrors.Wrap(err, apperrors.TypeConfig, fmt.Sprintf("invalid cadence in %s: %q", field, spec), "Cadences use standard 5-field cron syntax or @every durations.")
	}
	return nil
}

func validateRetention(field string, r Retention) error {
	if r.Daily < 0 || r.Weekly < 0 || r.Monthly < 0 {
		return apperrors.New(apperrors.TypeConfig, field+" has a negative tier count", "Retention counts must be zero or positive.")
	}
	return nil
}
