package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Режимы движка: demo — встроенные коллабораторы в памяти, live — реальные провайдеры
const (
	ModeDemo = "demo"
	ModeLive = "live"
)

// Config - корневая структура конфигурации сервиса.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Completion CompletionConfig `mapstructure:"completion"`
	Automation AutomationConfig `mapstructure:"automation"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера консоли.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// DatabaseConfig описывает подключение к PostgreSQL. Пустой URL - работаем без архива.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (отмена сессий). Пустой Addr — отмена только локальная.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT консоли.
type AuthConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// EngineConfig - реестр агентов, предохранители, ретраи и архив.
type EngineConfig struct {
	Mode   string   `mapstructure:"mode"`
	Agents []string `mapstructure:"agents"`

	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`

	HealthCheckTimeout  time.Duration `mapstructure:"health_check_timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`

	RetryMax       uint          `mapstructure:"retry_max"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	RetryBackoff   string        `mapstructure:"retry_backoff"` // linear, exponential

	ArchiveBufferSize    int           `mapstructure:"archive_buffer_size"`
	ArchiveFlushInterval time.Duration `mapstructure:"archive_flush_interval"`
}

// PipelineConfig - значения по умолчанию для новых сессий
type PipelineConfig struct {
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
	MaxItemsPerRun int           `mapstructure:"max_items_per_run"`
	AutoSubmit     bool          `mapstructure:"auto_submit"`
}

// CompletionConfig — OpenAI-совместимый провайдер текста
type CompletionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AutomationConfig - внешний gRPC-исполнитель автоматизации подачи
type AutomationConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr"`
	Method   string `mapstructure:"method"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig ищет config.yaml в текущей директории и в ./configs, затем накладывает ENV.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("")
}

// LoadConfigFrom - то же самое, но с явным путем к файлу.
func LoadConfigFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// PEM-ключ может прийти прямо в ENV (Docker/K8s), иначе читаем файл
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ловит конфигурации, с которыми сервис заведомо не поднимется.
func (c *Config) Validate() error {
	switch c.Engine.Mode {
	case ModeDemo, ModeLive:
	default:
		return fmt.Errorf("engine.mode must be %q or %q, got %q", ModeDemo, ModeLive, c.Engine.Mode)
	}
	if len(c.Engine.Agents) == 0 {
		return errors.New("engine.agents must not be empty")
	}
	switch c.Engine.RetryBackoff {
	case "linear", "exponential":
	default:
		return fmt.Errorf("engine.retry_backoff must be linear or exponential, got %q", c.Engine.RetryBackoff)
	}
	if c.Engine.Mode == ModeLive && c.Completion.BaseURL == "" {
		return errors.New("completion.base_url is required in live mode")
	}
	if c.Auth.Enabled && (len(c.Auth.PublicKey) == 0 || len(c.Auth.PrivateKey) == 0) {
		return errors.New("auth is enabled but RSA keys are not provided")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token_ttl", 8*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("engine.mode", ModeDemo)
	v.SetDefault("engine.agents", []string{
		"job_discovery", "resume_optimizer", "cover_letter_generator",
		"application_tracker", "browser_automation",
	})
	v.SetDefault("engine.breaker_threshold", 5)
	v.SetDefault("engine.breaker_timeout", 60*time.Second)
	v.SetDefault("engine.health_check_timeout", 30*time.Second)
	v.SetDefault("engine.health_check_interval", 5*time.Minute)
	v.SetDefault("engine.retry_max", 3)
	v.SetDefault("engine.retry_base_delay", 1*time.Second)
	v.SetDefault("engine.retry_max_delay", 30*time.Second)
	v.SetDefault("engine.retry_backoff", "exponential")
	v.SetDefault("engine.archive_buffer_size", 1000)
	v.SetDefault("engine.archive_flush_interval", 1*time.Second)

	v.SetDefault("pipeline.rate_limit_delay", 2*time.Second)
	v.SetDefault("pipeline.max_items_per_run", 10)
	v.SetDefault("pipeline.auto_submit", false)

	v.SetDefault("completion.model", "gpt-4o-mini")
	v.SetDefault("completion.timeout", 60*time.Second)

	v.SetDefault("automation.method", "/automation.v1.AutomationService/Run")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
