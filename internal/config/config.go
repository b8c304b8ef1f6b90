package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Throttle   ThrottleConfig   `yaml:"throttle" mapstructure:"throttle"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Perceive   PerceiveConfig   `yaml:"perceive" mapstructure:"perceive"`
	Comment    CommentConfig    `yaml:"comment" mapstructure:"comment"`
	TaskLog    TaskLogConfig    `yaml:"tasklog" mapstructure:"tasklog"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ThrottleConfig configures task pacing.
type ThrottleConfig struct {
	TargetPerHour    int `yaml:"target_per_hour" mapstructure:"target_per_hour"`
	Variance         int `yaml:"variance" mapstructure:"variance"`
	BreakAfterMin    int `yaml:"break_after_min" mapstructure:"break_after_min"`
	BreakAfterMax    int `yaml:"break_after_max" mapstructure:"break_after_max"`
	BreakMinSecs     int `yaml:"break_min_secs" mapstructure:"break_min_secs"`
	BreakMaxSecs     int `yaml:"break_max_secs" mapstructure:"break_max_secs"`
	MaxSinceBreakMin int `yaml:"max_since_break_min" mapstructure:"max_since_break_min"`
}

// EngineConfig configures the rating engine.
type EngineConfig struct {
	GuidelinesPath string `yaml:"guidelines_path" mapstructure:"guidelines_path"`
	OverridesPath  string `yaml:"overrides_path" mapstructure:"overrides_path"`
}

// PerceiveConfig configures the screen text source.
type PerceiveConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	Path     string `yaml:"path" mapstructure:"path"`
}

// CommentConfig configures comment generation.
type CommentConfig struct {
	SkipChance float64 `yaml:"skip_chance" mapstructure:"skip_chance"`
}

// TaskLogConfig configures the CSV ratings log.
type TaskLogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SessionConfig configures the evaluation loop.
type SessionConfig struct {
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxTasks         int `yaml:"max_tasks" mapstructure:"max_tasks"`
}

// MonitoringConfig configures health checks and alerting.
type MonitoringConfig struct {
	WebhookURL               string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs        int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours      int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	NotRelevantRateThreshold float64 `yaml:"not_relevant_rate_threshold" mapstructure:"not_relevant_rate_threshold"`
	MinConfidenceThreshold   float64 `yaml:"min_confidence_threshold" mapstructure:"min_confidence_threshold"`
	MaxTasksPerHour          int     `yaml:"max_tasks_per_hour" mapstructure:"max_tasks_per_hour"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MAPSEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "mapseval.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("throttle.target_per_hour", 24)
	v.SetDefault("throttle.variance", 3)
	v.SetDefault("throttle.break_after_min", 10)
	v.SetDefault("throttle.break_after_max", 12)
	v.SetDefault("throttle.break_min_secs", 300)
	v.SetDefault("throttle.break_max_secs", 600)
	v.SetDefault("throttle.max_since_break_min", 120)
	v.SetDefault("engine.guidelines_path", "guidelines.txt")
	v.SetDefault("perceive.provider", "file")
	v.SetDefault("comment.skip_chance", 0.3)
	v.SetDefault("tasklog.path", "ratings_log.csv")
	v.SetDefault("session.poll_interval_secs", 5)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.not_relevant_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_confidence_threshold", 0.4)
	v.SetDefault("monitoring.max_tasks_per_hour", 27)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
