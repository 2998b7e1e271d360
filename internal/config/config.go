package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	OTP       OTPConfig       `yaml:"otp" mapstructure:"otp"`
	Dedupe    DedupeConfig    `yaml:"dedupe" mapstructure:"dedupe"`
	Delivery  DeliveryConfig  `yaml:"delivery" mapstructure:"delivery"`
	Twilio    TwilioConfig    `yaml:"twilio" mapstructure:"twilio"`
	Antifraud AntifraudConfig `yaml:"antifraud" mapstructure:"antifraud"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// RedisConfig configures the ephemeral keyed store backing rate limits
// and OTP codes. An empty Addr selects the in-process store, which is
// fine for a single instance and for development.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// ServerConfig configures the intake HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// RateLimitRule is one class's limit and window.
type RateLimitRule struct {
	Limit      int64 `yaml:"limit" mapstructure:"limit"`
	WindowSecs int   `yaml:"window_secs" mapstructure:"window_secs"`
}

// RateLimitConfig holds per-class admission rules.
type RateLimitConfig struct {
	IP        RateLimitRule `yaml:"ip" mapstructure:"ip"`
	Phone     RateLimitRule `yaml:"phone" mapstructure:"phone"`
	OTPVerify RateLimitRule `yaml:"otp_verify" mapstructure:"otp_verify"`
}

// OTPConfig configures verification codes.
type OTPConfig struct {
	TTLSecs int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// DedupeConfig configures duplicate suppression.
type DedupeConfig struct {
	WindowDays int `yaml:"window_days" mapstructure:"window_days"`
}

// DeliveryConfig configures buyer handoff.
type DeliveryConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	Workers     int     `yaml:"workers" mapstructure:"workers"`
	QueueSize   int     `yaml:"queue_size" mapstructure:"queue_size"`
	BuyerRPS    float64 `yaml:"buyer_rps" mapstructure:"buyer_rps"`
	// Async routes verified leads through the worker pool instead of
	// delivering inline on the request path.
	Async bool `yaml:"async" mapstructure:"async"`
}

// TwilioConfig holds SMS credentials. All three fields empty disables
// SMS sending entirely.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid" mapstructure:"account_sid"`
	AuthToken  string `yaml:"auth_token" mapstructure:"auth_token"`
	FromNumber string `yaml:"from_number" mapstructure:"from_number"`
}

// AntifraudConfig configures the pre-persistence bot checks.
type AntifraudConfig struct {
	MinFormMillis int `yaml:"min_form_millis" mapstructure:"min_form_millis"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// OTPTTL returns the configured code lifetime.
func (c OTPConfig) OTPTTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// WindowDuration returns the rule's window as a duration.
func (r RateLimitRule) WindowDuration() time.Duration {
	return time.Duration(r.WindowSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ratelimit.ip.limit", 5)
	v.SetDefault("ratelimit.ip.window_secs", 60)
	v.SetDefault("ratelimit.phone.limit", 3)
	v.SetDefault("ratelimit.phone.window_secs", 3600)
	v.SetDefault("ratelimit.otp_verify.limit", 5)
	v.SetDefault("ratelimit.otp_verify.window_secs", 600)
	v.SetDefault("otp.ttl_secs", 600)
	v.SetDefault("dedupe.window_days", 30)
	v.SetDefault("delivery.timeout_secs", 10)
	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.workers", 4)
	v.SetDefault("delivery.queue_size", 256)
	v.SetDefault("delivery.buyer_rps", 5)
	v.SetDefault("delivery.async", true)
	v.SetDefault("antifraud.min_form_millis", 3000)

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

// Validate checks that the fields required by the given run mode are set.
func (c *Config) Validate(mode string) error {
	var problems []string

	checkStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url must be a sqlite file path")
			}
		default:
			problems = append(problems, "store.driver must be postgres or sqlite")
		}
	}

	switch mode {
	case "serve":
		checkStore()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Delivery.Workers < 1 || c.Delivery.Workers > 64 {
			problems = append(problems, "delivery.workers must be between 1 and 64")
		}
		if c.Delivery.MaxAttempts < 1 || c.Delivery.MaxAttempts > 10 {
			problems = append(problems, "delivery.max_attempts must be between 1 and 10")
		}
		if c.RateLimit.IP.Limit <= 0 || c.RateLimit.Phone.Limit <= 0 || c.RateLimit.OTPVerify.Limit <= 0 {
			problems = append(problems, "ratelimit limits must be > 0")
		}
		if c.OTP.TTLSecs <= 0 {
			problems = append(problems, "otp.ttl_secs must be > 0")
		}
	case "migrate", "buyer":
		checkStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
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
