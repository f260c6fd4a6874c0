package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	WhatsApp   WhatsAppConfig   `mapstructure:"whatsapp"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Media      MediaConfig      `mapstructure:"media"`
	Blob       BlobConfig       `mapstructure:"blob"`
	Scraper    ScraperConfig    `mapstructure:"scraper"`
	Tagging    TaggingConfig    `mapstructure:"tagging"`
	Access     AccessConfig     `mapstructure:"access"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type QueueConfig struct {
	// Dir holds the badger files. Empty keeps the queue in memory.
	Dir         string        `mapstructure:"dir"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type WorkerConfig struct {
	Concurrency               int           `mapstructure:"concurrency"`
	PollInterval              time.Duration `mapstructure:"poll_interval"`
	AllowedDocumentExtensions []string      `mapstructure:"allowed_document_extensions"`
}

type WhatsAppConfig struct {
	Token       string `mapstructure:"token"`
	VerifyToken string `mapstructure:"verify_token"`
	GraphURL    string `mapstructure:"graph_url"`
}

type TelegramConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Token        string `mapstructure:"token"`
	APIEndpoint  string `mapstructure:"api_endpoint"`
	FileEndpoint string `mapstructure:"file_endpoint"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	AssistantID string  `mapstructure:"assistant_id"`
	Model       string  `mapstructure:"model"`
	VisionModel string  `mapstructure:"vision_model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type ClassifierConfig struct {
	// Provider is "gpt" or "simple".
	Provider string `mapstructure:"provider"`
	MaxTags  int    `mapstructure:"max_tags"`
}

type MediaConfig struct {
	MaxBytes        int64         `mapstructure:"max_bytes"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

type BlobConfig struct {
	Root    string        `mapstructure:"root"`
	BaseURL string        `mapstructure:"base_url"`
	Secret  string        `mapstructure:"secret"`
	URLTTL  time.Duration `mapstructure:"url_ttl"`
}

type ScraperConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxBytes  int64         `mapstructure:"max_bytes"`
	MaxChars  int           `mapstructure:"max_chars"`
	UserAgent string        `mapstructure:"user_agent"`
}

type TaggingConfig struct {
	NextStepScope string `mapstructure:"next_step_scope"`
}

type AccessConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Admins    []string      `mapstructure:"admins"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

// LoadConfig reads path, then the environment. A .env file in the working
// directory is loaded first and a missing config file is not an error.
// Every key needs a default so AutomaticEnv can override it.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}
	if token := v.GetString("WHATSAPP_TOKEN"); token != "" {
		config.WhatsApp.Token = token
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "memo_organizer")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)

	v.SetDefault("queue.dir", "data/queue")
	v.SetDefault("queue.max_attempts", 8)
	v.SetDefault("queue.base_backoff", 2*time.Second)
	v.SetDefault("queue.max_backoff", 5*time.Minute)

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.poll_interval", 500*time.Millisecond)
	v.SetDefault("worker.allowed_document_extensions", []string{"pdf"})

	v.SetDefault("whatsapp.token", "")
	v.SetDefault("whatsapp.verify_token", "")
	v.SetDefault("whatsapp.graph_url", "https://graph.facebook.com/v21.0")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.file_endpoint", "")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.assistant_id", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.vision_model", "")
	v.SetDefault("openai.max_tokens", 300)
	v.SetDefault("openai.temperature", 0.2)

	v.SetDefault("classifier.provider", "gpt")
	v.SetDefault("classifier.max_tags", 5)

	v.SetDefault("media.max_bytes", 100<<20)
	v.SetDefault("media.download_timeout", 60*time.Second)

	v.SetDefault("blob.root", "data/blobs")
	v.SetDefault("blob.base_url", "http://localhost:8080")
	v.SetDefault("blob.secret", "")
	v.SetDefault("blob.url_ttl", 15*time.Minute)

	v.SetDefault("scraper.timeout", 30*time.Second)
	v.SetDefault("scraper.max_bytes", 512*1024)
	v.SetDefault("scraper.max_chars", 4000)
	v.SetDefault("scraper.user_agent", "")

	v.SetDefault("tagging.next_step_scope", "message")

	v.SetDefault("access.jwt_secret", "")
	v.SetDefault("access.admins", []string{})
	v.SetDefault("access.token_ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

func (c *Config) validate() error {
	switch c.Classifier.Provider {
	case "gpt":
		if c.OpenAI.APIKey == "" {
			return errors.New("openai.api_key is required for the gpt classifier")
		}
	case "simple":
	default:
		return fmt.Errorf("unknown classifier provider %q", c.Classifier.Provider)
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return errors.New("telegram.token is required when telegram is enabled")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	return nil
}
