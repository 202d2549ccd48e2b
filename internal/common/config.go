package common

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment selection. DSPIDER_ENV picks the config file under config/;
// unknown values fall back to dev.
const (
	EnvVarName         = "DSPIDER_ENV"
	DefaultEnvironment = "dev"
)

var supportedEnvironments = []string{"dev", "test", "prod"}

// Config is the application configuration shared by all nodes.
type Config struct {
	Environment string         `yaml:"environment" json:"environment"`
	MongoDB     MongoDBConfig  `yaml:"mongodb" json:"mongodb"`
	RabbitMQ    RabbitMQConfig `yaml:"rabbitmq" json:"rabbitmq"`
	Minio       MinioConfig    `yaml:"minio" json:"minio"`
	Master      MasterConfig   `yaml:"master" json:"master"`
	Worker      WorkerConfig   `yaml:"worker" json:"worker"`
	Cookies     CookiesConfig  `yaml:"cookies" json:"cookies"`
	Browser     BrowserConfig  `yaml:"browser" json:"browser"`
	Fetcher     FetcherConfig  `yaml:"fetcher" json:"fetcher"`
	Logging     LoggingConfig  `yaml:"logging" json:"logging"`
}

type MongoDBConfig struct {
	Host     string `yaml:"host" json:"host" validate:"required"`
	Port     int    `yaml:"port" json:"port" validate:"required,min=1,max=65535"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	DBName   string `yaml:"db_name" json:"db_name" validate:"required"`
}

// URI builds the connection string. Credentials are optional for local
// development brokers/stores.
func (c MongoDBConfig) URI() string {
	if c.Username != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d", c.Username, c.Password, c.Host, c.Port)
	}
	return fmt.Sprintf("mongodb://%s:%d", c.Host, c.Port)
}

type RabbitMQConfig struct {
	Host        string `yaml:"host" json:"host" validate:"required"`
	Port        int    `yaml:"port" json:"port" validate:"required,min=1,max=65535"`
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password" json:"password"`
	VirtualHost string `yaml:"virtual_host" json:"virtual_host"`
}

// URL builds the AMQP dial string.
func (c RabbitMQConfig) URL() string {
	user := c.Username
	if user == "" {
		user = "guest"
	}
	pass := c.Password
	if pass == "" {
		pass = "guest"
	}
	vhost := c.VirtualHost
	if vhost == "" {
		vhost = "/"
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", user, pass, c.Host, c.Port, vhostPath(vhost))
}

func vhostPath(vhost string) string {
	if vhost == "/" {
		return "/"
	}
	return "/" + strings.TrimPrefix(vhost, "/")
}

type MinioConfig struct {
	Host      string `yaml:"host" json:"host" validate:"required"`
	Port      int    `yaml:"port" json:"port" validate:"required,min=1,max=65535"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
	Bucket    string `yaml:"bucket" json:"bucket"`
}

// Endpoint builds the host:port endpoint for the object-store client.
func (c MinioConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MasterConfig struct {
	TaskQueue       string   `yaml:"task_queue" json:"task_queue" validate:"required"`
	ExchangeName    string   `yaml:"exchange_name" json:"exchange_name"`
	RoutingKey      string   `yaml:"routing_key" json:"routing_key"`
	TaskBatchSize   int64    `yaml:"task_batch_size" json:"task_batch_size" validate:"min=1"`
	PollingInterval Duration `yaml:"polling_interval" json:"polling_interval"`
	EnableRounds    bool     `yaml:"enable_rounds" json:"enable_rounds"`
	FailureLogPath  string   `yaml:"failure_log_path" json:"failure_log_path"`
}

type WorkerConfig struct {
	TaskQueue        string   `yaml:"task_queue" json:"task_queue" validate:"required"`
	SpiderName       string   `yaml:"spider_name" json:"spider_name" validate:"required"`
	PrefetchCount    int      `yaml:"prefetch_count" json:"prefetch_count" validate:"min=1"`
	Timeout          Duration `yaml:"timeout" json:"timeout"`
	PageDelay        Duration `yaml:"page_delay" json:"page_delay"`
	ResultExchange   string   `yaml:"result_exchange" json:"result_exchange"`
	ResultRoutingKey string   `yaml:"result_routing_key" json:"result_routing_key"`
	DedupMaxURLs     int      `yaml:"dedup_max_urls" json:"dedup_max_urls"`
}

type CookiesConfig struct {
	Queue          string   `yaml:"queue" json:"queue"`
	UpdateInterval Duration `yaml:"update_interval" json:"update_interval"`
}

type BrowserConfig struct {
	Headless       bool     `yaml:"headless" json:"headless"`
	NoSandbox      bool     `yaml:"no_sandbox" json:"no_sandbox"`
	UserAgent      string   `yaml:"user_agent" json:"user_agent"`
	CaptureTimeout Duration `yaml:"capture_timeout" json:"capture_timeout"`
}

type FetcherConfig struct {
	Timeout        Duration `yaml:"timeout" json:"timeout"`
	MaxRetries     int      `yaml:"max_retries" json:"max_retries" validate:"min=1"`
	RetryDelayBase Duration `yaml:"retry_delay_base" json:"retry_delay_base"`
	FreeProxyAPI   string   `yaml:"free_proxy_api" json:"free_proxy_api"`
	PaidProxyAPI   string   `yaml:"paid_proxy_api" json:"paid_proxy_api"`
}

type LoggingConfig struct {
	Level  string   `yaml:"level" json:"level"`
	File   string   `yaml:"file" json:"file"`
	Output []string `yaml:"output" json:"output"`
}

// NewDefaultConfig creates a configuration with default values. Technical
// parameters are hardcoded here; only deployment-facing settings belong in
// the config files.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: DefaultEnvironment,
		MongoDB: MongoDBConfig{
			Host:   "localhost",
			Port:   27017,
			DBName: "dspider",
		},
		RabbitMQ: RabbitMQConfig{
			Host:        "localhost",
			Port:        5672,
			VirtualHost: "/",
		},
		Minio: MinioConfig{
			Host:   "localhost",
			Port:   9000,
			Bucket: "spider-results",
		},
		Master: MasterConfig{
			TaskQueue:       "task_queue",
			ExchangeName:    "",
			RoutingKey:      "task_queue",
			TaskBatchSize:   100,
			PollingInterval: Duration(10 * time.Second),
			EnableRounds:    false,
			FailureLogPath:  "log/failed_status_updates.txt",
		},
		Worker: WorkerConfig{
			TaskQueue:     "task_queue",
			SpiderName:    "list_spider",
			PrefetchCount: 1,
			Timeout:       Duration(30 * time.Second),
			PageDelay:     Duration(5 * time.Second),
			DedupMaxURLs:  10000,
		},
		Cookies: CookiesConfig{
			Queue:          "cookie_tasks",
			UpdateInterval: Duration(time.Hour),
		},
		Browser: BrowserConfig{
			Headless:       true,
			NoSandbox:      true,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			CaptureTimeout: Duration(40 * time.Second),
		},
		Fetcher: FetcherConfig{
			Timeout:        Duration(30 * time.Second),
			MaxRetries:     1,
			RetryDelayBase: Duration(time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "logs/dspider.log",
			Output: []string{"stdout", "file"},
		},
	}
}

// CurrentEnvironment resolves the active environment from DSPIDER_ENV.
// Unknown values fall back to dev.
func CurrentEnvironment() string {
	env := strings.ToLower(os.Getenv(EnvVarName))
	for _, e := range supportedEnvironments {
		if env == e {
			return env
		}
	}
	return DefaultEnvironment
}

// DiscoverConfigFile locates the config file for the active environment
// under configDir: <env>.yaml, <env>.json, config.yaml, config.json, in that
// order. Returns "" when none exists (defaults apply).
func DiscoverConfigFile(configDir string) string {
	env := CurrentEnvironment()
	candidates := []string{
		filepath.Join(configDir, env+".yaml"),
		filepath.Join(configDir, env+".json"),
		filepath.Join(configDir, "config.yaml"),
		filepath.Join(configDir, "config.json"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
// An empty path discovers the file from the config/ directory. The file
// format follows its extension: .yaml/.yml or .json.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path == "" {
		path = DiscoverConfigFile("config")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(config)

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration structurally. A failure here is fatal at
// startup.
func Validate(config *Config) error {
	v := validator.New()
	if err := v.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if config.Master.PollingInterval <= 0 {
		return fmt.Errorf("invalid configuration: master.polling_interval must be positive")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
// Connection settings are the ones that differ between deploy targets.
func applyEnvOverrides(config *Config) {
	config.Environment = CurrentEnvironment()

	if host := os.Getenv("DSPIDER_MONGODB_HOST"); host != "" {
		config.MongoDB.Host = host
	}
	if port := os.Getenv("DSPIDER_MONGODB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.MongoDB.Port = p
		}
	}
	if user := os.Getenv("DSPIDER_MONGODB_USERNAME"); user != "" {
		config.MongoDB.Username = user
	}
	if pass := os.Getenv("DSPIDER_MONGODB_PASSWORD"); pass != "" {
		config.MongoDB.Password = pass
	}
	if name := os.Getenv("DSPIDER_MONGODB_DB_NAME"); name != "" {
		config.MongoDB.DBName = name
	}

	if host := os.Getenv("DSPIDER_RABBITMQ_HOST"); host != "" {
		config.RabbitMQ.Host = host
	}
	if port := os.Getenv("DSPIDER_RABBITMQ_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.RabbitMQ.Port = p
		}
	}
	if user := os.Getenv("DSPIDER_RABBITMQ_USERNAME"); user != "" {
		config.RabbitMQ.Username = user
	}
	if pass := os.Getenv("DSPIDER_RABBITMQ_PASSWORD"); pass != "" {
		config.RabbitMQ.Password = pass
	}
	if vhost := os.Getenv("DSPIDER_RABBITMQ_VIRTUAL_HOST"); vhost != "" {
		config.RabbitMQ.VirtualHost = vhost
	}

	if host := os.Getenv("DSPIDER_MINIO_HOST"); host != "" {
		config.Minio.Host = host
	}
	if port := os.Getenv("DSPIDER_MINIO_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Minio.Port = p
		}
	}
	if key := os.Getenv("DSPIDER_MINIO_ACCESS_KEY"); key != "" {
		config.Minio.AccessKey = key
	}
	if key := os.Getenv("DSPIDER_MINIO_SECRET_KEY"); key != "" {
		config.Minio.SecretKey = key
	}

	if level := os.Getenv("DSPIDER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
