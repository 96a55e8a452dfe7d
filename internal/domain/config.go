package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Engine tunables for matching, valuation and batch runs
	Engine EngineConfig `json:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EngineConfig holds the scoring and valuation tunables.
type EngineConfig struct {
	// DefaultPreset is the scoring preset used when a request names none.
	DefaultPreset string `json:"defaultPreset"`

	// TopK is the number of comparables feeding the base valuation.
	TopK int `json:"topK"`

	// TimeHorizonYears is where comparable time relevance decays to zero.
	TimeHorizonYears float64 `json:"timeHorizonYears"`

	// MaxResults caps the matches returned by a search.
	MaxResults int `json:"maxResults"`

	// SearchCacheTTL is how long a comparable search result is reused.
	SearchCacheTTL time.Duration `json:"searchCacheTtl"`

	// PillarWorkers bounds concurrent pillar scoring per evaluation.
	PillarWorkers int `json:"pillarWorkers"`

	// BatchWorkers bounds concurrent companies in a batch.
	BatchWorkers int `json:"batchWorkers"`

	// CompanyTimeout limits one company's analysis in a batch; 0 disables it.
	CompanyTimeout time.Duration `json:"companyTimeout"`

	// RuleWorkers bounds concurrent screening rule evaluation.
	RuleWorkers int `json:"ruleWorkers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// Tenants restricts the API to these tenant IDs; empty serves any.
	Tenants []string `json:"tenants,omitempty"`

	// AllowedOrigins lists CORS origins; empty reflects any origin.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultPreset:    PresetDefault,
		TopK:             5,
		TimeHorizonYears: 5,
		MaxResults:       25,
		SearchCacheTTL:   10 * time.Minute,
		PillarWorkers:    PillarCount,
		BatchWorkers:     8,
		RuleWorkers:      10,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:   TierCommunity,
		Engine: DefaultEngineConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
