package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "BACKTEST_"

// Config represents the application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Store      StoreConfig      `yaml:"store"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	JWT        JWTConfig        `yaml:"jwt"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	CORS       CORSConfig       `yaml:"cors"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	DBName   string        `yaml:"dbname"`
	SSLMode  string        `yaml:"sslmode"`
	MaxOpen  int           `yaml:"max_open"`
	MaxIdle  int           `yaml:"max_idle"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DSN 生成PostgreSQL连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL 生成migrate使用的连接URL
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// StoreConfig 任务存储配置
type StoreConfig struct {
	// Backend is one of redis, postgres, memory.
	Backend           string        `yaml:"backend"`
	JobTTL            time.Duration `yaml:"job_ttl"`
	FallbackRetention time.Duration `yaml:"fallback_retention"`
	HealthSchedule    string        `yaml:"health_schedule"`
	SweepSchedule     string        `yaml:"sweep_schedule"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// ProviderConfig 单个行情源配置
type ProviderConfig struct {
	Enabled   bool    `yaml:"enabled"`
	BaseURL   string  `yaml:"base_url"`
	APIKey    string  `yaml:"api_key"`
	APISecret string  `yaml:"api_secret"`
	Feed      string  `yaml:"feed"`
	RateLimit float64 `yaml:"rate_limit"` // 每秒请求数
	Burst     int     `yaml:"burst"`
}

// ProvidersConfig 行情源配置
type ProvidersConfig struct {
	Timeout      time.Duration  `yaml:"timeout"`
	CacheTTL     time.Duration  `yaml:"cache_ttl"`
	Breaker      BreakerConfig  `yaml:"breaker"`
	FMP          ProviderConfig `yaml:"fmp"`
	AlphaVantage ProviderConfig `yaml:"alpha_vantage"`
	Yahoo        ProviderConfig `yaml:"yahoo"`
	Alpaca       ProviderConfig `yaml:"alpaca"`
	Binance      ProviderConfig `yaml:"binance"`
}

// JobsConfig 任务队列配置
type JobsConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// BacktestConfig 回测限制配置
type BacktestConfig struct {
	MinDataPoints     int    `yaml:"min_data_points"`
	QuickRunMaxDays   int    `yaml:"quick_run_max_days"`
	QuickRunMaxAssets int    `yaml:"quick_run_max_assets"`
	DefaultBenchmark  string `yaml:"default_benchmark"`
}

// KafkaConfig 任务事件发布配置
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	SecretKey string        `yaml:"secret_key"`
	Duration  time.Duration `yaml:"duration"`
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPath    string `yaml:"prometheus_path"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	Filename string `yaml:"filename"`
}

// Load loads configuration from a YAML file, then applies .env, environment
// overrides and defaults, and validates the result.
func Load(filename string) (*Config, error) {
	var config Config

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	applyEnv(&config, NewEnvManager("", EnvPrefix))
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyEnv 用环境变量覆盖文件配置
func applyEnv(c *Config, em *EnvManager) {
	c.App.Env = em.GetString("app_env", c.App.Env)

	c.Server.Host = em.GetString("server_host", c.Server.Host)
	c.Server.Port = em.GetInt("server_port", c.Server.Port)

	c.Logging.Level = em.GetString("log_level", c.Logging.Level)
	c.Logging.Format = em.GetString("log_format", c.Logging.Format)

	c.Database.Host = em.GetString("database_host", c.Database.Host)
	c.Database.Port = em.GetInt("database_port", c.Database.Port)
	c.Database.User = em.GetString("database_user", c.Database.User)
	c.Database.Password = em.GetEncryptedString("database_password", c.Database.Password)
	c.Database.DBName = em.GetString("database_name", c.Database.DBName)

	c.Redis.Addr = em.GetString("redis_addr", c.Redis.Addr)
	c.Redis.Password = em.GetEncryptedString("redis_password", c.Redis.Password)

	c.Store.Backend = em.GetString("store_backend", c.Store.Backend)
	c.Store.JobTTL = em.GetDuration("store_job_ttl", c.Store.JobTTL)

	c.Providers.Timeout = em.GetDuration("providers_timeout", c.Providers.Timeout)
	c.Providers.FMP.APIKey = em.GetEncryptedString("fmp_api_key", c.Providers.FMP.APIKey)
	c.Providers.AlphaVantage.APIKey = em.GetEncryptedString("alpha_vantage_api_key", c.Providers.AlphaVantage.APIKey)
	c.Providers.Alpaca.APIKey = em.GetEncryptedString("alpaca_api_key", c.Providers.Alpaca.APIKey)
	c.Providers.Alpaca.APISecret = em.GetEncryptedString("alpaca_api_secret", c.Providers.Alpaca.APISecret)
	c.Providers.Binance.APIKey = em.GetEncryptedString("binance_api_key", c.Providers.Binance.APIKey)
	c.Providers.Binance.APISecret = em.GetEncryptedString("binance_api_secret", c.Providers.Binance.APISecret)

	c.Jobs.Workers = em.GetInt("jobs_workers", c.Jobs.Workers)
	c.Jobs.QueueSize = em.GetInt("jobs_queue_size", c.Jobs.QueueSize)

	c.Kafka.Enabled = em.GetBool("kafka_enabled", c.Kafka.Enabled)
	if brokers := em.GetString("kafka_brokers", ""); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}

	c.JWT.SecretKey = em.GetEncryptedString("jwt_secret_key", c.JWT.SecretKey)
}

// ApplyDefaults 填充缺省值
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "backtester"
	}
	if c.App.Env == "" {
		c.App.Env = "development"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = 1 << 20
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpen == 0 {
		c.Database.MaxOpen = 10
	}
	if c.Database.MaxIdle == 0 {
		c.Database.MaxIdle = 5
	}
	if c.Database.Timeout == 0 {
		c.Database.Timeout = 5 * time.Second
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "redis"
	}
	if c.Store.FallbackRetention == 0 {
		c.Store.FallbackRetention = 24 * time.Hour
	}
	if c.Store.HealthSchedule == "" {
		c.Store.HealthSchedule = "*/30 * * * * *"
	}
	if c.Store.SweepSchedule == "" {
		c.Store.SweepSchedule = "0 */10 * * * *"
	}
	// 负值表示不限时
	if c.Providers.Timeout == 0 {
		c.Providers.Timeout = 30 * time.Second
	} else if c.Providers.Timeout < 0 {
		c.Providers.Timeout = 0
	}
	if c.Providers.CacheTTL == 0 {
		c.Providers.CacheTTL = 15 * time.Minute
	}
	if c.Providers.Breaker.MaxRequests == 0 {
		c.Providers.Breaker.MaxRequests = 1
	}
	if c.Providers.Breaker.Interval == 0 {
		c.Providers.Breaker.Interval = time.Minute
	}
	if c.Providers.Breaker.Timeout == 0 {
		c.Providers.Breaker.Timeout = 30 * time.Second
	}
	if c.Providers.Breaker.ConsecutiveFailures == 0 {
		c.Providers.Breaker.ConsecutiveFailures = 5
	}
	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = 4
	}
	if c.Jobs.QueueSize == 0 {
		c.Jobs.QueueSize = 100
	}
	if c.Backtest.MinDataPoints == 0 {
		c.Backtest.MinDataPoints = 50
	}
	if c.Backtest.QuickRunMaxDays == 0 {
		c.Backtest.QuickRunMaxDays = 365
	}
	if c.Backtest.QuickRunMaxAssets == 0 {
		c.Backtest.QuickRunMaxAssets = 3
	}
	if c.Backtest.DefaultBenchmark == "" {
		c.Backtest.DefaultBenchmark = "SPY"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "backtest.jobs"
	}
	if c.JWT.Duration == 0 {
		c.JWT.Duration = 24 * time.Hour
	}
	if c.Monitoring.PrometheusPath == "" {
		c.Monitoring.PrometheusPath = "/metrics"
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var problems []string

	if c.App.Name == "" {
		problems = append(problems, "app.name is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Store.Backend {
	case "redis":
		if c.Redis.Addr == "" {
			problems = append(problems, "redis.addr is required for the redis store")
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			problems = append(problems, "database.host and database.dbname are required for the postgres store")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown store.backend %q", c.Store.Backend))
	}
	if c.Jobs.Workers < 1 {
		problems = append(problems, "jobs.workers must be at least 1")
	}
	if c.Jobs.QueueSize < 1 {
		problems = append(problems, "jobs.queue_size must be at least 1")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "kafka.brokers is required when kafka is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
