package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
	"github.com/cuongbtq/gallery-pipeline/internal/metrics"
	"github.com/cuongbtq/gallery-pipeline/internal/pipeline"
	"github.com/cuongbtq/gallery-pipeline/internal/records"
	"github.com/cuongbtq/gallery-pipeline/internal/scheduler"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Record backends
const (
	RecordsDriverAirtable = "airtable"
	RecordsDriverPostgres = "postgres"
)

// Defaults applied after parsing when a field is left empty
const (
	DefaultServerPort        = 8080
	DefaultPrompt            = pipeline.DefaultPrompt
	DefaultVariationCount    = domain.DefaultVariationCount
	DefaultEligibilityWindow = 24 * time.Hour
	DefaultSchedule          = scheduler.DefaultSchedule
	DefaultMetricsNamespace  = metrics.DefaultNamespace
	DefaultDownscaleWidth    = 1920
	DefaultDownscaleHeight   = 1080
	DefaultDownscaleQuality  = 80
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Records   RecordsConfig   `yaml:"records"`
	Airtable  AirtableConfig  `yaml:"airtable"`
	Storage   StorageConfig   `yaml:"storage"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Downscale DownscaleConfig `yaml:"downscale"`
	Source    SourceConfig    `yaml:"source"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Email     EmailConfig     `yaml:"email"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	AutoCreate      bool          `yaml:"auto_create"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	TimeFormat   string `yaml:"time_format"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds the notification worker settings
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GeminiConfig holds the image generation client settings
type GeminiConfig struct {
	APIKey              string        `yaml:"api_key"`
	Model               string        `yaml:"model"`
	ResponseModalities  []string      `yaml:"response_modalities"`
	InstructionTemplate string        `yaml:"instruction_template"`
	RelaxSafety         bool          `yaml:"relax_safety"`
	MaxRetries          int           `yaml:"max_retries"`
	InitialBackoff      time.Duration `yaml:"initial_backoff"`
	MaxBackoff          time.Duration `yaml:"max_backoff"`
}

// RecordsConfig selects the record backend
type RecordsConfig struct {
	Driver   string        `yaml:"driver"`
	ClaimTTL time.Duration `yaml:"claim_ttl"`
}

// AirtableConfig holds the Airtable backend settings
type AirtableConfig struct {
	BaseURL           string             `yaml:"base_url"`
	APIKey            string             `yaml:"api_key"`
	BaseID            string             `yaml:"base_id"`
	Table             string             `yaml:"table"`
	RequestsPerSecond float64            `yaml:"requests_per_second"`
	Timeout           time.Duration      `yaml:"timeout"`
	Fields            records.FieldNames `yaml:"fields"`
}

// StorageConfig holds the artifact store settings
type StorageConfig struct {
	Driver          string `yaml:"driver"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	PublicURL       string `yaml:"public_url"`
	UseSSL          bool   `yaml:"use_ssl"`
}

// PipelineConfig holds the processing settings
type PipelineConfig struct {
	DefaultPrompt     string        `yaml:"default_prompt"`
	UseDefaultPrompt  *bool         `yaml:"use_default_prompt"`
	VariationCount    int           `yaml:"variation_count"`
	EligibilityWindow time.Duration `yaml:"eligibility_window"`
	ClaimRecords      bool          `yaml:"claim_records"`
	PromptSeparator   string        `yaml:"prompt_separator"`
}

// DefaultPromptEnabled reports whether the default prompt is prepended; unset means true
func (p PipelineConfig) DefaultPromptEnabled() bool {
	return p.UseDefaultPrompt == nil || *p.UseDefaultPrompt
}

// DownscaleConfig holds the downloadable copy settings
type DownscaleConfig struct {
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
	Quality int `yaml:"quality"`
}

// SourceConfig holds the source image fetcher settings
type SourceConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
}

// SchedulerConfig holds the cron trigger settings
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EmailConfig holds the MailerSend settings
type EmailConfig struct {
	APIKey    string `yaml:"api_key"`
	FromName  string `yaml:"from_name"`
	FromEmail string `yaml:"from_email"`
}

// MetricsConfig holds the Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Load reads and parses the configuration file, then applies environment overrides and defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyEnv()
	config.ApplyDefaults()

	return &config, nil
}

// ApplyEnv overrides secrets and switches from the environment
func (c *Config) ApplyEnv() {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString("GEMINI_API_KEY", &c.Gemini.APIKey)
	setString("AIRTABLE_API_KEY", &c.Airtable.APIKey)
	setString("AIRTABLE_BASE_ID", &c.Airtable.BaseID)
	setString("AIRTABLE_TABLE_NAME", &c.Airtable.Table)
	setString("R2_ACCESS_KEY_ID", &c.Storage.AccessKeyID)
	setString("R2_SECRET_ACCESS_KEY", &c.Storage.SecretAccessKey)
	setString("R2_PUBLIC_URL", &c.Storage.PublicURL)
	setString("MAILERSEND_API_KEY", &c.Email.APIKey)
	setString("DEFAULT_FOOD_PROMPT", &c.Pipeline.DefaultPrompt)
	setString("DATABASE_PASSWORD", &c.Database.Password)
	setString("RABBITMQ_PASSWORD", &c.RabbitMQ.Password)

	if v, ok := os.LookupEnv("USE_DEFAULT_PROMPT"); ok && v != "" {
		enabled := v != "false"
		c.Pipeline.UseDefaultPrompt = &enabled
	}

	if v, ok := os.LookupEnv("DEFAULT_VARIATION_COUNT"); ok && v != "" {
		// unparsable values fall through to the coerced default
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		c.Pipeline.VariationCount = n
	}

	if v, ok := os.LookupEnv("AUTO_PROCESS_ENABLED"); ok && v == "false" {
		c.Scheduler.Enabled = false
	}
}

// ApplyDefaults fills fields left empty by the file
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.RabbitMQ.Connection.RetryAttempts <= 0 {
		c.RabbitMQ.Connection.RetryAttempts = 5
	}
	if c.RabbitMQ.Connection.RetryInterval == 0 {
		c.RabbitMQ.Connection.RetryInterval = 2 * time.Second
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
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.JobTimeout == 0 {
		c.Worker.JobTimeout = 30 * time.Second
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Records.Driver == "" {
		c.Records.Driver = RecordsDriverAirtable
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "auto"
	}
	if c.Pipeline.DefaultPrompt == "" {
		c.Pipeline.DefaultPrompt = DefaultPrompt
	}
	if c.Pipeline.VariationCount == 0 {
		c.Pipeline.VariationCount = DefaultVariationCount
	}
	if c.Pipeline.EligibilityWindow == 0 {
		c.Pipeline.EligibilityWindow = DefaultEligibilityWindow
	}
	if c.Pipeline.PromptSeparator == "" {
		c.Pipeline.PromptSeparator = ". "
	}
	if c.Downscale.Width == 0 {
		c.Downscale.Width = DefaultDownscaleWidth
	}
	if c.Downscale.Height == 0 {
		c.Downscale.Height = DefaultDownscaleHeight
	}
	if c.Downscale.Quality == 0 {
		c.Downscale.Quality = DefaultDownscaleQuality
	}
	if c.Scheduler.Schedule == "" {
		c.Scheduler.Schedule = DefaultSchedule
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// Validate runs the checks shared by both services
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}

		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	}

	return nil
}

// ValidateAPIConfig checks everything the api service needs to run the pipeline
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api key is required")
	}

	switch c.Records.Driver {
	case RecordsDriverAirtable:
		if c.Airtable.APIKey == "" {
			return fmt.Errorf("airtable api key is required")
		}
		if c.Airtable.BaseID == "" || c.Airtable.Table == "" {
			return fmt.Errorf("airtable base id and table are required")
		}
	case RecordsDriverPostgres:
		if !c.Database.Enabled {
			return fmt.Errorf("records driver postgres requires database.enabled")
		}
	default:
		return fmt.Errorf("unknown records driver: %q", c.Records.Driver)
	}

	if c.Storage.Driver != "memory" {
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required")
		}
		if c.Storage.Endpoint == "" {
			return fmt.Errorf("storage endpoint is required")
		}
	}
	if c.Storage.PublicURL == "" {
		return fmt.Errorf("storage public url is required")
	}

	if c.Pipeline.EligibilityWindow <= 0 {
		return fmt.Errorf("pipeline eligibility_window must be greater than 0")
	}

	return nil
}

// ValidateWorkerConfig checks everything the notification worker needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if !c.RabbitMQ.Enabled {
		return fmt.Errorf("worker requires rabbitmq.enabled")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Email.APIKey == "" {
		return fmt.Errorf("email api key is required")
	}

	if c.Email.FromEmail == "" {
		return fmt.Errorf("email from_email is required")
	}

	return nil
}
