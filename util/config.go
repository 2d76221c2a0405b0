package util

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type DbDialect string

const (
	DbDialectBolt     DbDialect = "bolt"
	DbDialectMemory   DbDialect = "memory"
	DbDialectSQLite   DbDialect = "sqlite"
	DbDialectPostgres DbDialect = "postgres"
	DbDialectMySQL    DbDialect = "mysql"
	DbDialectRedis    DbDialect = "redis"
)

type RedisConfig struct {
	Addr          string `env:"ADDR" envDefault:"127.0.0.1:6379"`
	DB            int    `env:"DB"`
	User          string `env:"USER"`
	Pass          string `env:"PASS"`
	TLS           bool   `env:"TLS"`
	TLSSkipVerify bool   `env:"TLS_SKIP_VERIFY"`
	KeyPrefix     string `env:"KEY_PREFIX" envDefault:"rostergate"`
}

type TelegramConfig struct {
	BotToken    string `env:"BOT_TOKEN"`
	BotUsername string `env:"BOT_USERNAME"`
	// Mode is "polling" or "webhook".
	Mode       string `env:"MODE" envDefault:"polling"`
	WebhookURL string `env:"WEBHOOK_URL"`
	// WebhookSecret is the last path segment of the webhook route.
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	PollTimeout   int    `env:"POLL_TIMEOUT" envDefault:"30"`
	Debug         bool   `env:"DEBUG"`
}

// ChatConfig maps chat ids to conversation classes. Private chats are
// always direct.
type ChatConfig struct {
	GeneralChatIDs []int64 `env:"GENERAL_IDS" envSeparator:","`
	AdminChatIDs   []int64 `env:"ADMIN_IDS" envSeparator:","`
}

type ClassifierConfig struct {
	URL            string        `env:"URL"`
	Threshold      float64       `env:"THRESHOLD" envDefault:"0.7"`
	LabelPath      string        `env:"LABEL_PATH" envDefault:"label"`
	ConfidencePath string        `env:"CONFIDENCE_PATH" envDefault:"confidence"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

type EngineConfig struct {
	URL     string        `env:"URL"`
	Token   string        `env:"TOKEN"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
	// File enables a rotating log file in addition to stderr.
	File       string `env:"FILE"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"50"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"5"`
	SyslogAddr string `env:"SYSLOG_ADDR"`
	SyslogNet  string `env:"SYSLOG_NETWORK" envDefault:"udp"`
	SyslogTag  string `env:"SYSLOG_TAG" envDefault:"rostergate"`
}

// ConfigType is the full runtime configuration. Every field is read from
// ROSTERGATE_ prefixed environment variables.
type ConfigType struct {
	Dialect      DbDialect     `env:"DIALECT" envDefault:"bolt"`
	BoltPath     string        `env:"BOLT_PATH" envDefault:"rostergate.db"`
	SqlDSN       string        `env:"SQL_DSN"`
	Redis        RedisConfig   `envPrefix:"REDIS_"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	// TokenSecret is the hex encoded root secret for invitation tokens.
	TokenSecret string        `env:"TOKEN_SECRET"`
	InviteTTL   time.Duration `env:"INVITE_TTL" envDefault:"168h"`
	TeamID      string        `env:"TEAM_ID"`
	PhoneRegion string        `env:"PHONE_REGION" envDefault:"GB"`
	// SystemIdentities are chat identities that resolve to SYSTEM level.
	SystemIdentities []string `env:"SYSTEM_IDENTITIES" envSeparator:","`

	Telegram   TelegramConfig   `envPrefix:"TELEGRAM_"`
	Chats      ChatConfig       `envPrefix:"CHAT_"`
	Classifier ClassifierConfig `envPrefix:"CLASSIFIER_"`
	Engine     EngineConfig     `envPrefix:"ENGINE_"`

	Workers   int           `env:"WORKERS" envDefault:"8"`
	QueueSize int           `env:"QUEUE_SIZE" envDefault:"64"`
	DedupTTL  time.Duration `env:"DEDUP_TTL" envDefault:"10m"`

	DispatchTimeout time.Duration `env:"DISPATCH_TIMEOUT" envDefault:"35s"`

	Interface     string `env:"HTTP_ADDR" envDefault:":3000"`
	APIToken      string `env:"API_TOKEN"`
	SweepSchedule string `env:"SWEEP_SCHEDULE" envDefault:"@every 10m"`

	Log LogConfig `envPrefix:"LOG_"`
}

const EnvPrefix = "ROSTERGATE_"

// Config is the process wide configuration, set by ConfigInit.
var Config *ConfigType

// LoadConfig reads an optional dotenv file and then the environment.
// A missing dotenv file is not an error.
func LoadConfig(envFile string) (*ConfigType, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	return ParseConfig(nil)
}

// ParseConfig parses configuration from environ, or from the process
// environment when environ is nil.
func ParseConfig(environ map[string]string) (*ConfigType, error) {
	cfg := &ConfigType{}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ConfigInit(envFile string) error {
	cfg, err := LoadConfig(envFile)
	if err != nil {
		return err
	}
	Config = cfg
	return nil
}

func (c *ConfigType) Validate() error {
	switch c.Dialect {
	case DbDialectBolt, DbDialectMemory, DbDialectRedis:
	case DbDialectSQLite, DbDialectPostgres, DbDialectMySQL:
		if c.SqlDSN == "" {
			return fmt.Errorf("%sSQL_DSN is required for dialect %s", EnvPrefix, c.Dialect)
		}
	default:
		return fmt.Errorf("unsupported dialect %q", c.Dialect)
	}

	if c.InviteTTL <= 0 {
		return fmt.Errorf("%sINVITE_TTL must be positive", EnvPrefix)
	}
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 1 {
		return fmt.Errorf("%sCLASSIFIER_THRESHOLD must be between 0 and 1", EnvPrefix)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%sWORKERS must be at least 1", EnvPrefix)
	}
	switch c.Telegram.Mode {
	case "polling":
	case "webhook":
		if c.Telegram.WebhookURL == "" || c.Telegram.WebhookSecret == "" {
			return fmt.Errorf("%sTELEGRAM_WEBHOOK_URL and %sTELEGRAM_WEBHOOK_SECRET are required in webhook mode", EnvPrefix, EnvPrefix)
		}
	default:
		return fmt.Errorf("unsupported telegram mode %q", c.Telegram.Mode)
	}
	if c.TokenSecret != "" {
		if _, err := c.TokenSecretBytes(); err != nil {
			return err
		}
	}
	return nil
}

// TokenSecretBytes decodes the root secret. At least 32 bytes are required.
func (c *ConfigType) TokenSecretBytes() ([]byte, error) {
	secret, err := hex.DecodeString(c.TokenSecret)
	if err != nil {
		return nil, fmt.Errorf("%sTOKEN_SECRET must be hex encoded", EnvPrefix)
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("%sTOKEN_SECRET must be at least 32 bytes", EnvPrefix)
	}
	return secret, nil
}

// ClassOfChat returns "general", "administrative" or "" for an unmapped
// group chat.
func (c *ChatConfig) ClassOfChat(chatID int64) string {
	for _, id := range c.AdminChatIDs {
		if id == chatID {
			return "administrative"
		}
	}
	for _, id := range c.GeneralChatIDs {
		if id == chatID {
			return "general"
		}
	}
	return ""
}
