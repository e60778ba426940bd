package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Unknown-sender policies for the activation gate.
const (
	UnknownSenderReply = "reply"
	UnknownSenderDrop  = "drop"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	NATS struct {
		URL                 string             `mapstructure:"url"`
		Inbound             ConsumerNatsConfig `mapstructure:"inbound"`
		OutboundStream      string             `mapstructure:"outboundStream"`      // Stream the engine publishes replies to
		OutboundSubject     string             `mapstructure:"outboundSubject"`     // Base subject for outbound messages (e.g., v1.onboarding.outbound)
		OutboundMaxAgeDays  int                `mapstructure:"outboundMaxAgeDays"`  // Retention period for outbound messages (days)
		DLQStream           string             `mapstructure:"dlqStream"`           // Name of the Dead Letter Queue stream
		DLQSubject          string             `mapstructure:"dlqSubject"`          // Base subject for DLQ messages (e.g., v1.dlq)
		DLQWorkers          int                `mapstructure:"dlqWorkers"`          // Number of concurrent DLQ processing workers
		DLQBaseDelayMinutes int                `mapstructure:"dlqBaseDelayMinutes"` // Base delay in minutes for exponential backoff
		DLQMaxDelayMinutes  int                `mapstructure:"dlqMaxDelayMinutes"`  // Max delay in minutes for exponential backoff
		DLQMaxAgeDays       int                `mapstructure:"dlqMaxAgeDays"`       // Retention period for DLQ messages (days)
		DLQMaxDeliver       int                `mapstructure:"dlqMaxDeliver"`       // Max redelivery attempts for DLQ consumer
		DLQAckWait          time.Duration      `mapstructure:"dlqAckWait"`          // Ack wait timeout for DLQ consumer
		DLQMaxAckPending    int                `mapstructure:"dlqMaxAckPending"`    // Max pending ACKs for DLQ consumer
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Company struct {
		Default string `mapstructure:"default"`
		ID      string `mapstructure:"id"`
	} `mapstructure:"company"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Engine      EngineConfig    `mapstructure:"engine"`
	Augmenter   AugmenterConfig `mapstructure:"augmenter"`
	Cache       CacheConfig     `mapstructure:"cache"`
	WorkerPools struct {
		Acquisition AcquisitionWorkerPoolConfig `mapstructure:"acquisition"`
	} `mapstructure:"workerPools"`
}

// EngineConfig parameterizes the onboarding dialogue engine.
type EngineConfig struct {
	// ActivationKeywords are tested by case-insensitive containment against
	// the first message of an unknown sender.
	ActivationKeywords []string `mapstructure:"activationKeywords"`
	// ActivationCode passes the gate on exact case-insensitive match.
	ActivationCode string `mapstructure:"activationCode" validate:"required"`
	// SLAThresholdDays is the minimum lead time for a go-live date to be
	// accepted without escalation. Equal counts as met.
	SLAThresholdDays int `mapstructure:"slaThresholdDays" validate:"gte=0"`
	// UnknownSenderPolicy controls messages from unknown senders that fail
	// the activation gate: "reply" sends a generic explanation, "drop" stays silent.
	UnknownSenderPolicy string `mapstructure:"unknownSenderPolicy" validate:"oneof=reply drop"`
}

// AugmenterConfig configures the optional LLM response augmenter.
type AugmenterConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CacheConfig configures the in-process bloom filter that lets the inbound
// path skip database lookups for phone numbers already seen as strangers.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ExpectedMerchants sizes the known-phone filter.
	ExpectedMerchants uint `mapstructure:"expectedMerchants"`
	// ExpectedStrangers sizes the stranger filter.
	ExpectedStrangers uint `mapstructure:"expectedStrangers"`
	// FalsePositiveRate applies to both filters.
	FalsePositiveRate float64 `mapstructure:"falsePositiveRate"`
}

// AcquisitionWorkerPoolConfig holds configuration for the acquisition worker pool
type AcquisitionWorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Task queue buffer size
	MaxBlock   time.Duration `mapstructure:"maxBlock"`   // Max time to block when submitting if queue full
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
	// OutreachTemplate is the first message sent to an acquired prospect.
	// %s is replaced with the business name when known.
	OutreachTemplate string `mapstructure:"outreachTemplate"`
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in day
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`   // Max delivery attempts before DLQ
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"` // Base delay for exponential backoff NAK
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`  // Maximum delay for exponential backoff NAK
}

// DefaultActivationKeywords is the keyword set used when none are configured.
var DefaultActivationKeywords = []string{
	"onboarding", "merchant", "business", "setup", "go-live", "golive",
	"store", "shop", "payment", "pos", "terminal", "help", "support",
	"start", "begin", "register", "signup", "sign up", "join",
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	// Create new viper instance
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	// Engine defaults
	v.SetDefault("engine.activationKeywords", DefaultActivationKeywords)
	v.SetDefault("engine.activationCode", "MERCHANT2024")
	v.SetDefault("engine.slaThresholdDays", 5)
	v.SetDefault("engine.unknownSenderPolicy", UnknownSenderReply)

	// Augmenter defaults
	v.SetDefault("augmenter.enabled", false)
	v.SetDefault("augmenter.timeout", 20*time.Second)

	// Activation cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.expectedMerchants", 100000)
	v.SetDefault("cache.expectedStrangers", 1000000)
	v.SetDefault("cache.falsePositiveRate", 0.01)

	// Outbound stream defaults
	v.SetDefault("nats.outboundStream", "onboarding_outbound")
	v.SetDefault("nats.outboundSubject", "v1.onboarding.outbound")
	v.SetDefault("nats.outboundMaxAgeDays", 7)

	// DLQ Worker Defaults
	v.SetDefault("nats.dlqWorkers", 8)
	v.SetDefault("nats.dlqBaseDelayMinutes", 1)
	v.SetDefault("nats.dlqMaxDelayMinutes", 15)

	// WorkerPools Defaults
	v.SetDefault("workerPools.acquisition.poolSize", 10)
	v.SetDefault("workerPools.acquisition.queueSize", 10000)
	v.SetDefault("workerPools.acquisition.maxBlock", time.Second)   // Default to 1 second block
	v.SetDefault("workerPools.acquisition.expiryTime", time.Minute) // Default to 1 minute expiry
	v.SetDefault("workerPools.acquisition.outreachTemplate",
		"👋 Hi %s! We'd love to get your business live on our payment platform. Reply with 'onboarding' to get started!")

	// Config file settings
	v.SetConfigName("default") // name of config file (without extension)
	v.SetConfigType("yaml")    // REQUIRED if the config file does not have the extension in the name

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.daisi-merchant-onboarding")
	v.AddConfigPath("/etc/daisi-merchant-onboarding")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if company := os.Getenv("COMPANY_ID"); company != "" {
		v.Set("company.id", company)
	}
	if code := os.Getenv("ACTIVATION_CODE"); code != "" {
		v.Set("engine.activationCode", code)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		// Get the field tag value (mapstructure)
		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		// Build the env var path
		path := append(parts, tag)
		key := strings.Join(path, ".")

		// If it's a struct, recursively bind its fields
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		// Bind the env var
		_ = v.BindEnv(key)
	}
}
