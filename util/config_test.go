package util

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, DbDialectBolt, cfg.Dialect)
	assert.Equal(t, 168*time.Hour, cfg.InviteTTL)
	assert.Equal(t, 0.7, cfg.Classifier.Threshold)
	assert.Equal(t, "label", cfg.Classifier.LabelPath)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, "polling", cfg.Telegram.Mode)
	assert.Equal(t, 8, cfg.Workers)
}

func TestParseConfig_NestedPrefixes(t *testing.T) {
	cfg, err := ParseConfig(map[string]string{
		"ROSTERGATE_DIALECT":              "redis",
		"ROSTERGATE_REDIS_ADDR":           "redis:6380",
		"ROSTERGATE_CHAT_GENERAL_IDS":     "-100,-101",
		"ROSTERGATE_CHAT_ADMIN_IDS":       "-200",
		"ROSTERGATE_CLASSIFIER_THRESHOLD": "0.5",
		"ROSTERGATE_ENGINE_TIMEOUT":       "10s",
	})
	require.NoError(t, err)

	assert.Equal(t, DbDialectRedis, cfg.Dialect)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, []int64{-100, -101}, cfg.Chats.GeneralChatIDs)
	assert.Equal(t, 0.5, cfg.Classifier.Threshold)
	assert.Equal(t, 10*time.Second, cfg.Engine.Timeout)

	assert.Equal(t, "general", cfg.Chats.ClassOfChat(-101))
	assert.Equal(t, "administrative", cfg.Chats.ClassOfChat(-200))
	assert.Equal(t, "", cfg.Chats.ClassOfChat(-300))
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown dialect":   {"ROSTERGATE_DIALECT": "oracle"},
		"sql without dsn":   {"ROSTERGATE_DIALECT": "postgres"},
		"threshold range":   {"ROSTERGATE_CLASSIFIER_THRESHOLD": "1.5"},
		"short secret":      {"ROSTERGATE_TOKEN_SECRET": "abcd"},
		"non hex secret":    {"ROSTERGATE_TOKEN_SECRET": "zz"},
		"no workers":        {"ROSTERGATE_WORKERS": "0"},
		"negative lifetime": {"ROSTERGATE_INVITE_TTL": "-1h"},
	}

	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig(environ)
			assert.Error(t, err)
		})
	}
}

func TestTokenSecretBytes(t *testing.T) {
	cfg := &ConfigType{TokenSecret: strings.Repeat("ab", 32)}
	secret, err := cfg.TokenSecretBytes()
	require.NoError(t, err)
	assert.Len(t, secret, 32)
}

func TestParseConfig_WebhookModeNeedsSecret(t *testing.T) {
	_, err := ParseConfig(map[string]string{
		"ROSTERGATE_TELEGRAM_MODE":        "webhook",
		"ROSTERGATE_TELEGRAM_WEBHOOK_URL": "https://bot.example.com/telegram/webhook/abc",
	})
	assert.Error(t, err)

	cfg, err := ParseConfig(map[string]string{
		"ROSTERGATE_TELEGRAM_MODE":           "webhook",
		"ROSTERGATE_TELEGRAM_WEBHOOK_URL":    "https://bot.example.com/telegram/webhook/abc",
		"ROSTERGATE_TELEGRAM_WEBHOOK_SECRET": "abc",
	})
	assert.NoError(t, err)
	assert.Equal(t, "abc", cfg.Telegram.WebhookSecret)
}
