package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDatabaseURL(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	cfg, err := parseDatabaseURL("postgres://memo:pw@db.internal:6543/organizer?sslmode=require")
	req.NoError(err)
	req.Equal(DatabaseConfig{
		Host:     "db.internal",
		Port:     6543,
		User:     "memo",
		Password: "pw",
		DBName:   "organizer",
		SSLMode:  "require",
	}, cfg)

	cfg, err = parseDatabaseURL("postgresql://u@localhost/x")
	req.NoError(err)
	req.Equal(5432, cfg.Port)
	req.Equal("disable", cfg.SSLMode)

	_, err = parseDatabaseURL("mysql://u@localhost/x")
	req.Error(err)
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	req := require.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	req.NoError(os.WriteFile(path, []byte(`
server:
  addr: ":9090"
worker:
  concurrency: 4
  allowed_document_extensions: ["pdf", "docx"]
classifier:
  provider: simple
tagging:
  next_step_scope: global
access:
  admins: ["root"]
`), 0o644))

	t.Setenv("WHATSAPP_TOKEN", "wa-secret")
	t.Setenv("DATABASE_URL", "postgres://memo:pw@db:5432/memo")
	t.Setenv("QUEUE_MAX_ATTEMPTS", "3")
	t.Setenv("ACCESS_JWT_SECRET", "jwt-secret")

	cfg, err := LoadConfig(path)
	req.NoError(err)
	req.Equal(":9090", cfg.Server.Addr)
	req.Equal(4, cfg.Worker.Concurrency)
	req.Equal([]string{"pdf", "docx"}, cfg.Worker.AllowedDocumentExtensions)
	req.Equal("global", cfg.Tagging.NextStepScope)
	req.Equal([]string{"root"}, cfg.Access.Admins)
	req.Equal("wa-secret", cfg.WhatsApp.Token)
	req.Equal("db", cfg.Database.Host)
	req.Equal(3, cfg.Queue.MaxAttempts)
	req.Equal("jwt-secret", cfg.Access.JWTSecret)
	req.Equal(15*time.Minute, cfg.Blob.URLTTL)
	req.Equal(4000, cfg.Scraper.MaxChars)
}

func TestLoadConfigToleratesMissingFile(t *testing.T) {
	t.Setenv("CLASSIFIER_PROVIDER", "simple")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 1, cfg.Worker.Concurrency)
}

func TestLoadConfigValidates(t *testing.T) {
	t.Setenv("CLASSIFIER_PROVIDER", "gpt")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := LoadConfig("")
	require.ErrorContains(t, err, "openai.api_key")
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger(LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewLogger(LogConfig{Level: "loud"})
	require.Error(t, err)
}
