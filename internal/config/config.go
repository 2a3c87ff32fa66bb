// Package config loads the report job's configuration once at process start.
//
// Sources are layered, later ones winning: built-in defaults, the embedded
// default report variants, an optional YAML file, a .env file and finally
// MISREPORTS_ environment variables. Nested keys in environment variables
// are separated by a double underscore, so MISREPORTS_DATABASE__HOST sets
// database.host.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix      = "MISREPORTS_"
	ConfigFileEnv  = EnvPrefix + "CONFIG_FILE"
	DefaultSheet   = "DATA"
	DefaultChunk   = 200
	nestingKeySep  = "__"
	koanfDelimiter = "."
)

//go:embed defaults.yaml
var defaultVariants []byte

type Config struct {
	Environment string          `koanf:"environment" validate:"required,oneof=dev stage demo prod"`
	DateFormat  string          `koanf:"date_format" validate:"required"`
	TempDir     string          `koanf:"temp_dir"`
	Log         LogConfig       `koanf:"log"`
	Schedule    ScheduleConfig  `koanf:"schedule"`
	Database    DatabaseConfig  `koanf:"database"`
	Storage     StorageConfig   `koanf:"storage"`
	Mail        MailConfig      `koanf:"mail"`
	Secrets     SecretsConfig   `koanf:"secrets"`
	Metrics     MetricsConfig   `koanf:"metrics"`
	Variants    []VariantConfig `koanf:"variants" validate:"required,min=1,dive"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `koanf:"pretty"`
}

type ScheduleConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

type DatabaseConfig struct {
	Driver         string        `koanf:"driver" validate:"required,oneof=mysql pgx"`
	Host           string        `koanf:"host" validate:"required"`
	Port           int           `koanf:"port" validate:"required,gt=0,lte=65535"`
	Name           string        `koanf:"name" validate:"required"`
	Username       string        `koanf:"username" validate:"required"`
	Password       string        `koanf:"password"`
	SSLMode        string        `koanf:"ssl_mode"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

type StorageConfig struct {
	Bucket       string `koanf:"bucket" validate:"required"`
	KeyPrefix    string `koanf:"key_prefix"`
	Region       string `koanf:"region"`
	EndpointURL  string `koanf:"endpoint_url"`
	UsePathStyle bool   `koanf:"use_path_style"`
}

type MailConfig struct {
	Transport  string     `koanf:"transport" validate:"required,oneof=ses smtp"`
	Sender     string     `koanf:"sender" validate:"required,email"`
	SenderName string     `koanf:"sender_name"`
	Region     string     `koanf:"region"`
	SMTP       SMTPConfig `koanf:"smtp"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type SecretsConfig struct {
	Enabled     bool                    `koanf:"enabled"`
	EndpointURL string                  `koanf:"endpoint_url"`
	CacheTTL    time.Duration           `koanf:"cache_ttl"`
	Bundles     map[string]SecretBundle `koanf:"bundles"`
}

// SecretBundle names the Secrets Manager secret for one environment and the
// JSON keys holding each credential inside it.
type SecretBundle struct {
	SecretID        string `koanf:"secret_id"`
	DBPasswordKey   string `koanf:"db_password_key"`
	MailPasswordKey string `koanf:"mail_password_key"`
}

type MetricsConfig struct {
	PushgatewayURL string `koanf:"pushgateway_url" validate:"omitempty,url"`
	Job            string `koanf:"job"`
}

type VariantConfig struct {
	Name    string         `koanf:"name" validate:"required"`
	Reports []ReportConfig `koanf:"reports" validate:"required,min=1,dive"`
}

type ReportConfig struct {
	Name       string   `koanf:"name" validate:"required"`
	FilePrefix string   `koanf:"file_prefix" validate:"required"`
	Sheet      string   `koanf:"sheet"`
	Query      string   `koanf:"query" validate:"required"`
	ChunkSize  int      `koanf:"chunk_size" validate:"gte=0"`
	Recipients []string `koanf:"recipients" validate:"required,min=1,dive,email"`
	Subject    string   `koanf:"subject" validate:"required"`
	Body       string   `koanf:"body"`
}

// Options controls where Load reads from. The zero value reads the file named
// by MISREPORTS_CONFIG_FILE, if any, plus the process environment.
type Options struct {
	File       string
	SkipDotEnv bool
	Environ    func() []string
}

func defaults() map[string]any {
	return map[string]any{
		"environment":              "dev",
		"date_format":              "02-01-2006",
		"log.level":                "info",
		"schedule.enabled":         true,
		"schedule.interval":        "24h",
		"database.driver":          "mysql",
		"database.port":            3306,
		"database.connect_timeout": "10s",
		"storage.bucket":           "kloo-mis-transaction",
		"storage.region":           "eu-west-2",
		"mail.transport":           "ses",
		"mail.sender":              "support@getkloo.com",
		"mail.sender_name":         "Kloo",
		"mail.region":              "eu-west-2",
		"mail.smtp.host":           "email-smtp.eu-west-2.amazonaws.com",
		"mail.smtp.port":           587,
		"secrets.enabled":          true,
		"secrets.cache_ttl":        "5m",

		"secrets.bundles.dev.secret_id":         "kloo-dev-environment-variables",
		"secrets.bundles.dev.db_password_key":   "Dev_DB_PASSWORD",
		"secrets.bundles.stage.secret_id":       "kloo-Stage-Environment-Variables",
		"secrets.bundles.stage.db_password_key": "Stage_db_password",
		"secrets.bundles.demo.secret_id":        "kloo_environment_variables_demo",
		"secrets.bundles.demo.db_password_key":  "Demo_DB_Password",
		"secrets.bundles.prod.secret_id":        "kloo_environment_variable_prod",
		"secrets.bundles.prod.db_password_key":  "Production_DB_Password",

		"metrics.job": "mis_reports",
	}
}

// Load builds and validates the configuration.
func Load(opts Options) (*Config, error) {
	if !opts.SkipDotEnv {
		// A missing .env file is fine.
		_ = godotenv.Load()
	}

	k := koanf.New(koanfDelimiter)

	if err := k.Load(confmap.Provider(defaults(), koanfDelimiter), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	variants, err := yaml.Parser().Unmarshal(defaultVariants)
	if err != nil {
		return nil, fmt.Errorf("failed to parse default variants: %w", err)
	}
	if err := k.Load(confmap.Provider(variants, ""), nil); err != nil {
		return nil, fmt.Errorf("failed to load default variants: %w", err)
	}

	path := opts.File
	if path == "" {
		path = lookupEnv(opts.Environ, ConfigFileEnv)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(koanfDelimiter, env.Opt{
		Prefix:        EnvPrefix,
		EnvironFunc:   opts.Environ,
		TransformFunc: transformEnv,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Mail.Transport == "smtp" && c.Mail.SMTP.Host == "" {
		return fmt.Errorf("invalid config: mail.smtp.host is required for smtp transport")
	}
	if c.Secrets.Enabled {
		if _, ok := c.Secrets.Bundles[c.Environment]; !ok {
			return fmt.Errorf("invalid config: no secret bundle for environment %q", c.Environment)
		}
	}

	seen := make(map[string]struct{}, len(c.Variants))
	for _, v := range c.Variants {
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("invalid config: duplicate variant %q", v.Name)
		}
		seen[v.Name] = struct{}{}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	for i := range c.Variants {
		for j := range c.Variants[i].Reports {
			r := &c.Variants[i].Reports[j]
			if r.Sheet == "" {
				r.Sheet = DefaultSheet
			}
			if r.ChunkSize == 0 {
				r.ChunkSize = DefaultChunk
			}
		}
	}
}

// transformEnv maps MISREPORTS_STORAGE__KEY_PREFIX to storage.key_prefix.
// Values are kept verbatim: passwords and display names may contain commas,
// and the only list settings live inside variants, which come from YAML.
func transformEnv(key, value string) (string, any) {
	key = strings.TrimPrefix(key, EnvPrefix)
	if key == "CONFIG_FILE" {
		return "", nil
	}
	return strings.ToLower(strings.ReplaceAll(key, nestingKeySep, koanfDelimiter)), value
}

func lookupEnv(environ func() []string, name string) string {
	if environ == nil {
		return os.Getenv(name)
	}
	for _, kv := range environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k == name {
			return v
		}
	}
	return ""
}
