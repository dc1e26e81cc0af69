package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/values"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	Compliance ComplianceConfig `koanf:"compliance"`
	Delivery   DeliveryConfig   `koanf:"delivery"`
	Providers  ProvidersConfig  `koanf:"providers"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr       string        `koanf:"addr"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	VerdictTTL time.Duration `koanf:"verdict_ttl"`
}

// ComplianceConfig is the operator-editable rule set. Changing it never
// requires a rebuild; a new snapshot applies to evaluations that start after
// the reload.
type ComplianceConfig struct {
	Timezone             string        `koanf:"timezone"`
	CallingHoursStart    int           `koanf:"calling_hours_start"`
	CallingHoursEnd      int           `koanf:"calling_hours_end"`
	EmailDailyLimit      int           `koanf:"email_daily_limit"`
	EmailWeeklyLimit     int           `koanf:"email_weekly_limit"`
	SMSDailyLimit        int           `koanf:"sms_daily_limit"`
	SMSWeeklyLimit       int           `koanf:"sms_weekly_limit"`
	VoiceDailyLimit      int           `koanf:"voice_daily_limit"`
	VoiceWeeklyLimit     int           `koanf:"voice_weekly_limit"`
	MaxDailyTotal        int           `koanf:"max_daily_total"`
	MinVoiceGap          time.Duration `koanf:"min_voice_gap"`
	RequiredDisclosures  []string      `koanf:"required_disclosures"`
	ProhibitedTerms      []string      `koanf:"prohibited_terms"`
	WarnAtFraction       float64       `koanf:"warn_at_fraction"`
	ConsentExpiryWarning time.Duration `koanf:"consent_expiry_warning"`
}

// RuleSet converts the config section into a domain rule-set snapshot
func (c ComplianceConfig) RuleSet(version string) (compliance.RuleSet, error) {
	rs := compliance.RuleSet{
		Version:  version,
		Timezone: c.Timezone,
		CallingHours: compliance.TimeWindow{
			StartHour: c.CallingHoursStart,
			EndHour:   c.CallingHoursEnd,
		},
		DailyLimits: map[values.Channel]int{
			values.ChannelEmail: c.EmailDailyLimit,
			values.ChannelSMS:   c.SMSDailyLimit,
			values.ChannelVoice: c.VoiceDailyLimit,
		},
		WeeklyLimits: map[values.Channel]int{
			values.ChannelEmail: c.EmailWeeklyLimit,
			values.ChannelSMS:   c.SMSWeeklyLimit,
			values.ChannelVoice: c.VoiceWeeklyLimit,
		},
		MaxDailyTotal:        c.MaxDailyTotal,
		MinVoiceGap:          c.MinVoiceGap,
		RequiredDisclosures:  c.RequiredDisclosures,
		ProhibitedTerms:      c.ProhibitedTerms,
		WarnAtFraction:       c.WarnAtFraction,
		ConsentExpiryWarning: c.ConsentExpiryWarning,
	}
	if err := rs.Validate(); err != nil {
		return compliance.RuleSet{}, err
	}
	return rs, nil
}

type DeliveryConfig struct {
	MaxRetries  int             `koanf:"max_retries"`
	RetryDelays []time.Duration `koanf:"retry_delays"`
	Multiplier  float64         `koanf:"multiplier"`
	MaxDelay    time.Duration   `koanf:"max_delay"`
	Workers     int             `koanf:"workers"`
	QueueSize   int             `koanf:"queue_size"`
}

type ProvidersConfig struct {
	Email ProviderConfig `koanf:"email"`
	SMS   ProviderConfig `koanf:"sms"`
	Voice ProviderConfig `koanf:"voice"`
}

type ProviderConfig struct {
	Name     string        `koanf:"name"`
	Endpoint string        `koanf:"endpoint"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

func Load() (*Config, error) {
	return LoadFrom("configs/config.yaml")
}

func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			VerdictTTL: 5 * time.Minute,
		},
		Compliance: ComplianceConfig{
			Timezone:          "America/New_York",
			CallingHoursStart: 8,
			CallingHoursEnd:   21,
			EmailDailyLimit:   3,
			EmailWeeklyLimit:  10,
			SMSDailyLimit:     2,
			SMSWeeklyLimit:    6,
			VoiceDailyLimit:   1,
			VoiceWeeklyLimit:  3,
			MaxDailyTotal:     5,
			MinVoiceGap:       4 * time.Hour,
			RequiredDisclosures: []string{
				"this is an attempt to collect a debt",
				"right to dispute",
			},
			ProhibitedTerms:      []string{"arrest", "jail", "criminal", "lawsuit guaranteed"},
			WarnAtFraction:       0.8,
			ConsentExpiryWarning: 7 * 24 * time.Hour,
		},
		Delivery: DeliveryConfig{
			MaxRetries:  3,
			RetryDelays: []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
			Multiplier:  2,
			MaxDelay:    time.Hour,
			Workers:     8,
			QueueSize:   1024,
		},
		Providers: ProvidersConfig{
			Email: ProviderConfig{Name: "smtp", Timeout: 10 * time.Second},
			SMS:   ProviderConfig{Name: "sms", Timeout: 10 * time.Second},
			Voice: ProviderConfig{Name: "voice", Timeout: 30 * time.Second},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional; env and defaults cover the common cases.
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("OUTREACH_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "OUTREACH_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
