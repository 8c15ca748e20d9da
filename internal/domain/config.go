package domain

import "time"

// Config holds the complete FinCrime Signals configuration.
type Config struct {
	Generator GeneratorConfig `yaml:"generator" json:"generator"`
	Input     InputConfig     `yaml:"input" json:"input"`
	Output    OutputConfig    `yaml:"output" json:"output"`

	// Server settings (cmd/signals only)
	Server ServerConfig `yaml:"server" json:"server"`

	// Optional sinks and infrastructure
	Repository RepositoryConfig `yaml:"repository" json:"repository"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus" json:"eventBus"`

	// Observability
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// GeneratorConfig is the externally tunable part of a batch run.
// Category and weight tables are not configurable.
type GeneratorConfig struct {
	Rows   int    `yaml:"rows" json:"rows"`
	Months int    `yaml:"months" json:"months"`
	Seed   uint64 `yaml:"seed" json:"seed"`

	// AsOf fixes the end of the generation window. When zero the clock is
	// read at run time, which makes timestamps differ between runs.
	AsOf time.Time `yaml:"asOf" json:"asOf"`
}

// InputConfig locates the customer population.
type InputConfig struct {
	CustomersPath string `yaml:"customersPath" json:"customersPath"`
}

// OutputConfig controls the transaction file.
type OutputConfig struct {
	// Path of the CSV. Every "{batch}" in it is replaced by the batch id.
	Path string `yaml:"path" json:"path"`

	// IncludeMatchedRules appends a matched_rules column listing every rule
	// that matched, not only the one chosen as alert_type.
	IncludeMatchedRules bool `yaml:"includeMatchedRules" json:"includeMatchedRules"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"readTimeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `yaml:"writeTimeout" json:"writeTimeout"` // seconds

	// Browser origins allowed by CORS. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"serviceName" json:"serviceName"`
}

// BatchPlaceholder in Output.Path is replaced by the batch id.
const BatchPlaceholder = "{batch}"

// Defaults for a batch run.
const (
	DefaultRows   = 10000
	DefaultMonths = 9
	DefaultSeed   = 42
)

// DefaultConfig returns the configuration used by cmd/txgen when nothing
// is overridden: CSV in, CSV out, no SQL sink, in-memory cache and bus.
func DefaultConfig() *Config {
	return &Config{
		Generator: GeneratorConfig{
			Rows:   DefaultRows,
			Months: DefaultMonths,
			Seed:   DefaultSeed,
		},
		Input: InputConfig{
			CustomersPath: "data/customers.csv",
		},
		Output: OutputConfig{
			Path: "data/transactions.csv",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 120,
		},
		Repository: RepositoryConfig{
			Driver: DriverNone,
		},
		Cache: CacheConfig{
			Type:           "memory",
			LocalMaxSize:   10000,
			LocalTTL:       30 * time.Minute,
			RedisKeyPrefix: "fincrime:",
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fincrime-signals",
		},
	}
}

// ServerDefaults returns the configuration used by cmd/signals: same as
// DefaultConfig but each batch gets its own file and is mirrored into a
// local SQLite database so the API can serve it.
func ServerDefaults() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:     DriverSQLite,
		SQLitePath: "./data/fincrime.db",
	}
	cfg.Output.Path = "data/batches/{batch}.csv"
	return cfg
}
