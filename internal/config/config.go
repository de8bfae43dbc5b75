// Package config provides configuration loading for islandd.
//
// Configuration is read from a YAML file and overridden by ISLANDD_*
// environment variables. Each section mirrors the settings of one internal
// package; wiring in internal/services converts sections into package configs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete islandd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Metadata    MetadataConfig    `koanf:"metadata"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Sync        SyncConfig        `koanf:"sync"`
	Redis       RedisConfig       `koanf:"redis"`
	ObjectStore ObjectStoreConfig `koanf:"objectstore"`
	Watch       WatchConfig       `koanf:"watch"`
	Router      RouterConfig      `koanf:"router"`
	Reconcile   ReconcileConfig   `koanf:"reconcile"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetadataConfig selects the relational metadata store.
type MetadataConfig struct {
	Driver          string        `koanf:"driver"` // sqlite or mysql
	DSN             Secret        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open"`
	MaxIdleConns    int           `koanf:"max_idle"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// VectorStoreConfig selects and configures the vector backend.
type VectorStoreConfig struct {
	Provider      string              `koanf:"provider"` // chromem, qdrant or elasticsearch
	Timeout       time.Duration       `koanf:"timeout"`
	Chromem       ChromemConfig       `koanf:"chromem"`
	Qdrant        QdrantConfig        `koanf:"qdrant"`
	Elasticsearch ElasticsearchConfig `koanf:"elasticsearch"`
}

// ChromemConfig holds embedded chromem-go settings. An empty Path keeps
// partitions in memory only.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds Qdrant gRPC settings.
type QdrantConfig struct {
	Host          string        `koanf:"host"`
	Port          int           `koanf:"port"`
	UseTLS        bool          `koanf:"use_tls"`
	APIKey        Secret        `koanf:"api_key"`
	MaxMessageMB  int           `koanf:"max_message_mb"`
	MaxRetries    int           `koanf:"max_retries"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	CircuitLimit  int           `koanf:"circuit_limit"`
	CircuitWindow time.Duration `koanf:"circuit_window"`
}

// ElasticsearchConfig holds Elasticsearch v8 client settings.
type ElasticsearchConfig struct {
	Addresses  []string `koanf:"addresses"`
	Username   string   `koanf:"username"`
	Password   Secret   `koanf:"password"`
	MaxRetries int      `koanf:"max_retries"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider  string  `koanf:"provider"` // fastembed or tei
	Model     string  `koanf:"model"`
	BaseURL   string  `koanf:"base_url"`
	CacheDir  string  `koanf:"cache_dir"`
	Dimension int     `koanf:"dimension"`
	BatchSize int     `koanf:"batch_size"`
	Hybrid    bool    `koanf:"hybrid"`
	RateLimit float64 `koanf:"rate_limit"` // batches per second, 0 disables
}

// SyncConfig holds incremental sync settings.
type SyncConfig struct {
	MaxFileBytes int64         `koanf:"max_file_bytes"`
	SkipDirs     []string      `koanf:"skip_dirs"`
	ChunkLines   int           `koanf:"chunk_lines"`
	ChunkOverlap int           `koanf:"chunk_overlap"`
	Lock         string        `koanf:"lock"` // memory, redis or db
	LeaseTTL     time.Duration `koanf:"lease_ttl"`
}

// RedisConfig is used by the redis sync lock.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
}

// ObjectStoreConfig holds S3-compatible credentials for object datasets.
type ObjectStoreConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey Secret `koanf:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl"`
	Region    string `koanf:"region"`
}

// WatchConfig configures change-notification sources.
type WatchConfig struct {
	FS    FSWatchConfig    `koanf:"fs"`
	NATS  NATSWatchConfig  `koanf:"nats"`
	Kafka KafkaWatchConfig `koanf:"kafka"`
}

// FSWatchConfig configures the local directory watcher.
type FSWatchConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Debounce time.Duration `koanf:"debounce"`
	Roots    []string      `koanf:"roots"` // entries of the form project/dataset=path
}

// NATSWatchConfig configures the NATS subscriber.
type NATSWatchConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
	Queue   string `koanf:"queue"`
}

// KafkaWatchConfig configures the Kafka consumer.
type KafkaWatchConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	GroupID string   `koanf:"group_id"`
}

// RouterConfig holds query routing settings.
type RouterConfig struct {
	AllowFallback bool `koanf:"allow_fallback"`
	MaxFanout     int  `koanf:"max_fanout"`
	DefaultLimit  int  `koanf:"default_limit"`
}

// ReconcileConfig controls the periodic point-count sweep. Zero disables it.
type ReconcileConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Caller   bool   `koanf:"caller"`
	Sampling bool   `koanf:"sampling"`
	OTEL     bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // grpc or http
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9393
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Metadata.Driver == "" {
		cfg.Metadata.Driver = "sqlite"
	}
	if cfg.Metadata.DSN == "" && cfg.Metadata.Driver == "sqlite" {
		cfg.Metadata.DSN = "~/.local/share/islandd/metadata.db"
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Timeout == 0 {
		cfg.VectorStore.Timeout = 30 * time.Second
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.local/share/islandd/vectors"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.MaxMessageMB == 0 {
		cfg.VectorStore.Qdrant.MaxMessageMB = 50
	}
	if cfg.VectorStore.Qdrant.MaxRetries == 0 {
		cfg.VectorStore.Qdrant.MaxRetries = 3
	}
	if cfg.VectorStore.Qdrant.RetryBackoff == 0 {
		cfg.VectorStore.Qdrant.RetryBackoff = time.Second
	}
	if cfg.VectorStore.Qdrant.CircuitLimit == 0 {
		cfg.VectorStore.Qdrant.CircuitLimit = 5
	}
	if cfg.VectorStore.Qdrant.CircuitWindow == 0 {
		cfg.VectorStore.Qdrant.CircuitWindow = 30 * time.Second
	}
	if len(cfg.VectorStore.Elasticsearch.Addresses) == 0 {
		cfg.VectorStore.Elasticsearch.Addresses = []string{"http://localhost:9200"}
	}
	if cfg.VectorStore.Elasticsearch.MaxRetries == 0 {
		cfg.VectorStore.Elasticsearch.MaxRetries = 3
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = "~/.cache/islandd/models"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 384 // bge-small-en-v1.5
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 32
	}

	if cfg.Sync.MaxFileBytes == 0 {
		cfg.Sync.MaxFileBytes = 1 << 20
	}
	if len(cfg.Sync.SkipDirs) == 0 {
		cfg.Sync.SkipDirs = []string{".git", "node_modules", "vendor", "__pycache__", ".venv", "dist", "build"}
	}
	if cfg.Sync.ChunkLines == 0 {
		cfg.Sync.ChunkLines = 60
	}
	if cfg.Sync.ChunkOverlap == 0 {
		cfg.Sync.ChunkOverlap = 10
	}
	if cfg.Sync.Lock == "" {
		cfg.Sync.Lock = "memory"
	}
	if cfg.Sync.LeaseTTL == 0 {
		cfg.Sync.LeaseTTL = 10 * time.Minute
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	if cfg.Watch.FS.Debounce == 0 {
		cfg.Watch.FS.Debounce = 2 * time.Second
	}
	if cfg.Watch.NATS.Subject == "" {
		cfg.Watch.NATS.Subject = "islandd.changes"
	}
	if cfg.Watch.Kafka.GroupID == "" {
		cfg.Watch.Kafka.GroupID = "islandd"
	}

	if cfg.Router.MaxFanout == 0 {
		cfg.Router.MaxFanout = 8
	}
	if cfg.Router.DefaultLimit == 0 {
		cfg.Router.DefaultLimit = 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "islandd"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	switch c.Metadata.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("metadata.driver must be sqlite or mysql, got %q", c.Metadata.Driver))
	}
	if !c.Metadata.DSN.IsSet() {
		errs = append(errs, errors.New("metadata.dsn is required"))
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant", "elasticsearch":
	default:
		errs = append(errs, fmt.Errorf("vectorstore.provider must be chromem, qdrant or elasticsearch, got %q", c.VectorStore.Provider))
	}
	if c.VectorStore.Timeout <= 0 {
		errs = append(errs, errors.New("vectorstore.timeout must be positive"))
	}

	switch c.Embeddings.Provider {
	case "fastembed", "tei":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be fastembed or tei, got %q", c.Embeddings.Provider))
	}
	if c.Embeddings.Dimension <= 0 {
		errs = append(errs, errors.New("embeddings.dimension must be positive"))
	}

	if c.Sync.ChunkOverlap >= c.Sync.ChunkLines {
		errs = append(errs, fmt.Errorf("sync.chunk_overlap (%d) must be smaller than sync.chunk_lines (%d)", c.Sync.ChunkOverlap, c.Sync.ChunkLines))
	}
	switch c.Sync.Lock {
	case "memory", "redis", "db":
	default:
		errs = append(errs, fmt.Errorf("sync.lock must be memory, redis or db, got %q", c.Sync.Lock))
	}

	for _, r := range c.Watch.FS.Roots {
		if _, _, _, err := ParseWatchRoot(r); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Router.MaxFanout < 1 {
		errs = append(errs, errors.New("router.max_fanout must be at least 1"))
	}
	if c.Reconcile.Interval < 0 {
		errs = append(errs, errors.New("reconcile.interval cannot be negative"))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate))
		}
	}

	return errors.Join(errs...)
}

// ParseWatchRoot splits a "project/dataset=path" watch entry.
func ParseWatchRoot(s string) (project, dataset, path string, err error) {
	target, path, ok := strings.Cut(s, "=")
	if !ok || path == "" {
		return "", "", "", fmt.Errorf("watch root %q must look like project/dataset=path", s)
	}
	project, dataset, ok = strings.Cut(target, "/")
	if !ok || project == "" || dataset == "" {
		return "", "", "", fmt.Errorf("watch root %q must look like project/dataset=path", s)
	}
	return project, dataset, path, nil
}
