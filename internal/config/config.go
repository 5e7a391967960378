package config

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	AdSense  AdSenseConfig  `mapstructure:"adsense"`
	Report   ReportConfig   `mapstructure:"report"`
	Mail     MailConfig     `mapstructure:"mail"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AdSenseConfig holds AdSense Management API configuration
type AdSenseConfig struct {
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	AccessToken    string        `mapstructure:"access_token"`
	RefreshToken   string        `mapstructure:"refresh_token"`
	Account        string        `mapstructure:"account"` // empty = first account
	DateRange      string        `mapstructure:"date_range"`
	OrderBy        string        `mapstructure:"order_by"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ReportConfig holds the report layout: metric catalog and dimensions
type ReportConfig struct {
	Metrics         []string          `mapstructure:"metrics"`
	Dimensions      []string          `mapstructure:"dimensions"`
	DimensionOffset int               `mapstructure:"dimension_offset"`
	Labels          map[string]string `mapstructure:"labels"`
	Timezone        string            `mapstructure:"timezone"`
	RecentDays      int               `mapstructure:"recent_days"`
}

// MailConfig holds email rendering and SMTP delivery configuration
type MailConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Locale         string        `mapstructure:"locale"`
	AppName        string        `mapstructure:"app_name"`
	From           string        `mapstructure:"from"`
	ToAddress      string        `mapstructure:"to_address"`
	ToName         string        `mapstructure:"to_name"`
	SMTPHost       string        `mapstructure:"smtp_host"`
	SMTPPort       int           `mapstructure:"smtp_port"`
	SMTPUsername   string        `mapstructure:"smtp_username"`
	SMTPPassword   string        `mapstructure:"smtp_password"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ScheduleConfig holds the run cadence
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// TelegramConfig holds Telegram ops notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// ADREPORT_MAIL_SMTP_PASSWORD overrides mail.smtp_password
	v.SetEnvPrefix("ADREPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper lowercases map keys; metric identifiers are upper case.
	if len(cfg.Report.Labels) > 0 {
		labels := make(map[string]string, len(cfg.Report.Labels))
		for k, label := range cfg.Report.Labels {
			labels[strings.ToUpper(k)] = label
		}
		cfg.Report.Labels = labels
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Secrets default to empty so AutomaticEnv can supply them
	for _, key := range []string{
		"adsense.client_id", "adsense.client_secret", "adsense.access_token", "adsense.refresh_token", "adsense.account",
		"mail.from", "mail.to_address", "mail.to_name", "mail.smtp_host", "mail.smtp_username", "mail.smtp_password",
		"telegram.bot_token", "telegram.chat_id",
	} {
		v.SetDefault(key, "")
	}

	// AdSense defaults
	v.SetDefault("adsense.date_range", "MONTH_TO_DATE")
	v.SetDefault("adsense.order_by", "-DATE")
	v.SetDefault("adsense.timeout", "30s")
	v.SetDefault("adsense.max_retries", 3)
	v.SetDefault("adsense.retry_delay_base", "1s")

	// Report defaults
	v.SetDefault("report.metrics", []string{
		"PAGE_VIEWS",
		"ESTIMATED_EARNINGS",
		"INDIVIDUAL_AD_IMPRESSIONS",
		"ACTIVE_VIEW_VIEWABILITY",
	})
	v.SetDefault("report.dimensions", []string{"DATE", "DOMAIN_CODE"})
	v.SetDefault("report.dimension_offset", 2)
	v.SetDefault("report.timezone", "UTC")
	v.SetDefault("report.recent_days", 7)

	// Mail defaults
	v.SetDefault("mail.enabled", true)
	v.SetDefault("mail.locale", "en")
	v.SetDefault("mail.app_name", "AdReport")
	v.SetDefault("mail.smtp_port", 587)
	v.SetDefault("mail.max_retries", 3)
	v.SetDefault("mail.retry_delay_base", "2s")

	// Schedule defaults
	v.SetDefault("schedule.cron", "0 8 * * *")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Location returns the time zone report dates are expressed in.
func (c *ReportConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("report.timezone: %w", err)
	}
	return loc, nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate AdSense config
	if c.AdSense.RefreshToken == "" {
		return fmt.Errorf("adsense.refresh_token is required")
	}
	if c.AdSense.ClientID == "" || c.AdSense.ClientSecret == "" {
		return fmt.Errorf("adsense.client_id and adsense.client_secret are required")
	}
	if c.AdSense.DateRange == "" {
		return fmt.Errorf("adsense.date_range is required")
	}
	if c.AdSense.Timeout <= 0 {
		return fmt.Errorf("adsense.timeout must be positive")
	}
	if c.AdSense.MaxRetries < 1 {
		return fmt.Errorf("adsense.max_retries must be at least 1")
	}

	if err := c.ValidateReport(); err != nil {
		return err
	}

	// Validate Mail config
	if c.Mail.Enabled {
		if _, err := mail.ParseAddress(c.Mail.From); err != nil {
			return fmt.Errorf("mail.from is invalid: %w", err)
		}
		if _, err := mail.ParseAddress(c.Mail.ToAddress); err != nil {
			return fmt.Errorf("mail.to_address is invalid: %w", err)
		}
		if c.Mail.SMTPHost == "" {
			return fmt.Errorf("mail.smtp_host is required when mail is enabled")
		}
		if c.Mail.SMTPPort < 1 || c.Mail.SMTPPort > 65535 {
			return fmt.Errorf("mail.smtp_port must be between 1 and 65535")
		}
	}

	// Validate Schedule config
	if len(strings.Fields(c.Schedule.Cron)) != 5 {
		return fmt.Errorf("schedule.cron must be a 5-field cron expression")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// ValidateReport checks only what rendering a report needs, so a mail
// preview can run without API or SMTP credentials.
func (c *Config) ValidateReport() error {
	if len(c.Report.Metrics) == 0 {
		return fmt.Errorf("report.metrics must contain at least one metric")
	}
	if c.Report.DimensionOffset < 1 || c.Report.DimensionOffset > 2 {
		return fmt.Errorf("report.dimension_offset must be 1 or 2")
	}
	if len(c.Report.Dimensions) != c.Report.DimensionOffset {
		return fmt.Errorf("report.dimensions has %d entries but report.dimension_offset is %d",
			len(c.Report.Dimensions), c.Report.DimensionOffset)
	}
	if c.Report.Dimensions[0] != "DATE" {
		return fmt.Errorf("report.dimensions must start with DATE")
	}
	if _, err := c.Report.Location(); err != nil {
		return err
	}
	if c.Report.RecentDays < 0 {
		return fmt.Errorf("report.recent_days must not be negative")
	}

	validLocales := map[string]bool{"en": true, "ja": true}
	if !validLocales[c.Mail.Locale] {
		return fmt.Errorf("mail.locale must be one of: en, ja")
	}

	return nil
}
