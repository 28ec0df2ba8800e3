// Package config loads runtime settings from an optional .env file, an
// optional YAML file and ALWAYSPLAN_* environment variables, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "ALWAYSPLAN_"

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

type PushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	Subscriber      string `yaml:"subscriber"`
}

type EmailConfig struct {
	// Provider is "postmark", "sendgrid" or empty for no email delivery.
	Provider       string `yaml:"provider"`
	PostmarkToken  string `yaml:"postmark_token"`
	SendGridAPIKey string `yaml:"sendgrid_api_key"`
	From           string `yaml:"from"`
	FromName       string `yaml:"from_name"`
}

type ReminderConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Lookahead time.Duration `yaml:"lookahead"`
	Retention time.Duration `yaml:"retention"`
}

type SyncConfig struct {
	// Schedule is a robfig/cron spec for the periodic sync job.
	Schedule         string `yaml:"schedule"`
	ImportPastDays   int    `yaml:"import_past_days"`
	ImportFutureDays int    `yaml:"import_future_days"`
}

type S3Config struct {
	// Endpoint is empty for AWS or set for any S3-compatible store.
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type BackupConfig struct {
	// Schedule is a robfig/cron spec. Backups run only when S3 is set.
	Schedule  string        `yaml:"schedule"`
	Retention time.Duration `yaml:"retention"`
	S3        S3Config      `yaml:"s3"`
}

// Enabled reports whether an object store is configured.
func (b BackupConfig) Enabled() bool {
	return b.S3.Bucket != "" && b.S3.AccessKey != "" && b.S3.SecretKey != ""
}

// Config is the top-level application configuration.
type Config struct {
	Port      string `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	BaseURL   string `yaml:"base_url"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// Timezone is used for users without one of their own.
	Timezone string `yaml:"timezone"`
	// SecretKey seals stored calendar credentials.
	SecretKey string `yaml:"secret_key"`

	Google   GoogleConfig   `yaml:"google"`
	Push     PushConfig     `yaml:"push"`
	Email    EmailConfig    `yaml:"email"`
	Reminder ReminderConfig `yaml:"reminder"`
	Sync     SyncConfig     `yaml:"sync"`
	Backup   BackupConfig   `yaml:"backup"`
}

// Normalize fills in zero values with defaults.
func (c *Config) Normalize() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.DBPath == "" {
		c.DBPath = "alwaysplan.db"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:" + c.Port
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Reminder.Interval <= 0 {
		c.Reminder.Interval = 60 * time.Second
	}
	if c.Reminder.Lookahead <= 0 {
		c.Reminder.Lookahead = 35 * 24 * time.Hour
	}
	if c.Reminder.Retention <= 0 {
		c.Reminder.Retention = 30 * 24 * time.Hour
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "@every 15m"
	}
	if c.Sync.ImportPastDays <= 0 {
		c.Sync.ImportPastDays = 30
	}
	if c.Sync.ImportFutureDays <= 0 {
		c.Sync.ImportFutureDays = 365
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "@daily"
	}
	if c.Backup.Retention <= 0 {
		c.Backup.Retention = 30 * 24 * time.Hour
	}
	if c.Backup.S3.Region == "" {
		c.Backup.S3.Region = "us-east-1"
	}
	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = c.BaseURL + "/oauth/google/callback"
	}
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	switch c.Email.Provider {
	case "":
	case "postmark":
		if c.Email.PostmarkToken == "" {
			return errors.New("email provider postmark needs a postmark token")
		}
	case "sendgrid":
		if c.Email.SendGridAPIKey == "" {
			return errors.New("email provider sendgrid needs an api key")
		}
	default:
		return fmt.Errorf("unknown email provider %q", c.Email.Provider)
	}
	if c.Google.ClientID != "" && c.SecretKey == "" {
		return errors.New("a secret key is required to store calendar credentials")
	}
	if c.Backup.Enabled() && c.SecretKey == "" {
		return errors.New("a secret key is required to encrypt backups")
	}
	return nil
}

// Load reads .env (if present), the YAML file named by ALWAYSPLAN_CONFIG
// (if set) and the environment, then normalises and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"PORT":                 &c.Port,
		"DB_PATH":              &c.DBPath,
		"BASE_URL":             &c.BaseURL,
		"LOG_LEVEL":            &c.LogLevel,
		"LOG_FORMAT":           &c.LogFormat,
		"TIMEZONE":             &c.Timezone,
		"SECRET_KEY":           &c.SecretKey,
		"GOOGLE_CLIENT_ID":     &c.Google.ClientID,
		"GOOGLE_CLIENT_SECRET": &c.Google.ClientSecret,
		"GOOGLE_REDIRECT_URL":  &c.Google.RedirectURL,
		"VAPID_PUBLIC_KEY":     &c.Push.VAPIDPublicKey,
		"VAPID_PRIVATE_KEY":    &c.Push.VAPIDPrivateKey,
		"PUSH_SUBSCRIBER":      &c.Push.Subscriber,
		"EMAIL_PROVIDER":       &c.Email.Provider,
		"POSTMARK_TOKEN":       &c.Email.PostmarkToken,
		"SENDGRID_API_KEY":     &c.Email.SendGridAPIKey,
		"EMAIL_FROM":           &c.Email.From,
		"EMAIL_FROM_NAME":      &c.Email.FromName,
		"SYNC_SCHEDULE":        &c.Sync.Schedule,
		"BACKUP_SCHEDULE":      &c.Backup.Schedule,
		"S3_ENDPOINT":          &c.Backup.S3.Endpoint,
		"S3_BUCKET":            &c.Backup.S3.Bucket,
		"S3_REGION":            &c.Backup.S3.Region,
		"S3_ACCESS_KEY":        &c.Backup.S3.AccessKey,
		"S3_SECRET_KEY":        &c.Backup.S3.SecretKey,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"REMINDER_INTERVAL":  &c.Reminder.Interval,
		"REMINDER_LOOKAHEAD": &c.Reminder.Lookahead,
		"REMINDER_RETENTION": &c.Reminder.Retention,
		"BACKUP_RETENTION":   &c.Backup.Retention,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"IMPORT_PAST_DAYS":   &c.Sync.ImportPastDays,
		"IMPORT_FUTURE_DAYS": &c.Sync.ImportFutureDays,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}
	return nil
}
