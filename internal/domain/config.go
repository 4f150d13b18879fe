package domain

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" yaml:"tier"`

	// Engine holds the scoring policy
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// EngineConfig holds the scoring and decision policy. All values are
// configuration with calibrated defaults; Validate rejects a malformed
// policy at construction time, never mid-evaluation.
type EngineConfig struct {
	// Combination weights; must form a convex combination
	MLWeight      float64 `json:"mlWeight" yaml:"mlWeight"`
	RuleWeight    float64 `json:"ruleWeight" yaml:"ruleWeight"`
	AnomalyWeight float64 `json:"anomalyWeight" yaml:"anomalyWeight"`

	// Risk-level thresholds, evaluated high to low
	HighThreshold   float64 `json:"highThreshold" yaml:"highThreshold"`
	MediumThreshold float64 `json:"mediumThreshold" yaml:"mediumThreshold"`
	LowThreshold    float64 `json:"lowThreshold" yaml:"lowThreshold"`

	// Anomaly detector settings
	AnomalyZThreshold float64 `json:"anomalyZThreshold" yaml:"anomalyZThreshold"`
	AnomalyMinSamples int     `json:"anomalyMinSamples" yaml:"anomalyMinSamples"`

	// Built-in rule thresholds
	Rules RuleThresholds `json:"rules" yaml:"rules"`

	// ModelTimeoutMS bounds the probability model call; expiry degrades
	// the verdict instead of failing the request
	ModelTimeoutMS int `json:"modelTimeoutMs" yaml:"modelTimeoutMs"`
}

// Validate checks that the engine configuration is usable.
func (c EngineConfig) Validate() error {
	const epsilon = 1e-9
	if c.MLWeight < 0 || c.RuleWeight < 0 || c.AnomalyWeight < 0 {
		return &ConfigError{Component: "engine", Reason: "combination weights must be non-negative"}
	}
	sum := c.MLWeight + c.RuleWeight + c.AnomalyWeight
	if sum < 1-epsilon || sum > 1+epsilon {
		return &ConfigError{Component: "engine", Reason: "combination weights must sum to 1.0"}
	}
	if c.RuleWeight+c.AnomalyWeight <= 0 {
		return &ConfigError{Component: "engine", Reason: "rule and anomaly weights cannot both be zero"}
	}
	if !(c.HighThreshold > c.MediumThreshold && c.MediumThreshold > c.LowThreshold && c.LowThreshold > 0) {
		return &ConfigError{Component: "engine", Reason: "risk thresholds must satisfy 0 < low < medium < high"}
	}
	if c.AnomalyZThreshold <= 0 {
		return &ConfigError{Component: "engine", Reason: "anomaly z threshold must be positive"}
	}
	if c.AnomalyMinSamples < 0 {
		return &ConfigError{Component: "engine", Reason: "anomaly min samples must be non-negative"}
	}
	return nil
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultEngineConfig returns the calibrated default scoring policy.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MLWeight:          0.5,
		RuleWeight:        0.35,
		AnomalyWeight:     0.15,
		HighThreshold:     0.70,
		MediumThreshold:   0.40,
		LowThreshold:      0.30,
		AnomalyZThreshold: 3.0,
		AnomalyMinSamples: 30,
		Rules:             DefaultRuleThresholds(),
		ModelTimeoutMS:    200,
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
			LocalTTL:     300, // seconds
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
