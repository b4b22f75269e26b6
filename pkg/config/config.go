package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Council     CouncilConfig
	LLM         LLMConfig
	Ledger      LedgerConfig
	SQLite      SQLiteConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Improvement ImprovementConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	RateLimitPerMinute int
	MaxContentLength   int
	AllowedOrigins     []string
	Development        bool
}

type CouncilConfig struct {
	Mode                string
	MaxWorkers          int
	EvaluatorTimeoutSec int
	RiskThreshold       float64
	Categories          []string
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type LedgerConfig struct {
	Path              string
	Difficulty        int
	MiningDeadlineSec int
	SealIntervalSec   int
	MaxSealAttempts   int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
	// InvalidateOnStart drops cached verdicts from a previous judge set.
	InvalidateOnStart bool
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ImprovementConfig struct {
	RetrainThreshold int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c CouncilConfig) EvaluatorTimeout() time.Duration {
	return time.Duration(c.EvaluatorTimeoutSec) * time.Second
}

func (c LedgerConfig) MiningDeadline() time.Duration {
	return time.Duration(c.MiningDeadlineSec) * time.Second
}

func (c LedgerConfig) SealInterval() time.Duration {
	return time.Duration(c.SealIntervalSec) * time.Second
}

func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

func Load() (*Config, error) {
	return load(viper.New(), "")
}

// LoadFile reads the given file instead of searching the default paths.
func LoadFile(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/council")
	}

	v.SetEnvPrefix("COUNCIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Council.Mode {
	case "heuristic", "llm", "hybrid":
	default:
		return fmt.Errorf("invalid council.mode %q", c.Council.Mode)
	}
	if c.Council.MaxWorkers <= 0 {
		return fmt.Errorf("council.maxWorkers must be positive, got %d", c.Council.MaxWorkers)
	}
	if c.Ledger.Difficulty < 0 || c.Ledger.Difficulty > 64 {
		return fmt.Errorf("ledger.difficulty out of range: %d", c.Ledger.Difficulty)
	}
	if c.Improvement.RetrainThreshold <= 0 {
		return fmt.Errorf("improvement.retrainThreshold must be positive, got %d", c.Improvement.RetrainThreshold)
	}
	if c.Council.Mode != "heuristic" && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.apiKey is required for council.mode %q", c.Council.Mode)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 4194304)
	v.SetDefault("server.rateLimitPerMinute", 60)
	v.SetDefault("server.maxContentLength", 100000)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.development", false)

	v.SetDefault("council.mode", "heuristic")
	v.SetDefault("council.maxWorkers", 8)
	v.SetDefault("council.evaluatorTimeoutSec", 30)
	v.SetDefault("council.riskThreshold", 70.0)
	v.SetDefault("council.categories", []string{})

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.maxTokens", 1000)
	v.SetDefault("llm.timeoutSec", 25)

	v.SetDefault("ledger.path", "./data/ledger")
	v.SetDefault("ledger.difficulty", 2)
	v.SetDefault("ledger.miningDeadlineSec", 30)
	v.SetDefault("ledger.sealIntervalSec", 10)
	v.SetDefault("ledger.maxSealAttempts", 3)

	v.SetDefault("sqlite.path", "./data/council.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlSec", 3600)
	v.SetDefault("redis.invalidateOnStart", true)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "council.retraining")

	v.SetDefault("improvement.retrainThreshold", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
