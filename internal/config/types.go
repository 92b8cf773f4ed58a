package config

import "time"

// Config is the root configuration of the compliance service.
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Policy    PolicyConfig    `yaml:"policy"`
	Engine    EngineConfig    `yaml:"engine"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig defines the API server settings.
type ServerConfig struct {
	Listen           ListenConfig   `yaml:"listen"`
	ReadTimeout      time.Duration  `yaml:"read_timeout"`
	WriteTimeout     time.Duration  `yaml:"write_timeout"`
	IdleTimeout      time.Duration  `yaml:"idle_timeout"`
	GracefulShutdown time.Duration  `yaml:"graceful_shutdown"`
	MaxBodyBytes     int64          `yaml:"max_body_bytes"`
	Security         SecurityConfig `yaml:"security"`
}

// SecurityConfig defines security-related settings.
type SecurityConfig struct {
	CORSAllowedOrigins    []string `yaml:"cors_allowed_origins"` // Empty = same-origin only, ["*"] = allow all
	EnableSecurityHeaders bool     `yaml:"enable_security_headers"`
}

// ListenConfig defines the server listen address.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// PolicyConfig defines where rule documents are loaded from.
type PolicyConfig struct {
	PolicyDir string `yaml:"policy_dir"` // .json/.txt/.md rule documents preloaded into workspaces
	// CrossCheck compiles every scored document to Rego and compares verdicts.
	CrossCheck bool `yaml:"cross_check"`
}

// EngineConfig defines scoring engine settings.
type EngineConfig struct {
	Workers           int         `yaml:"workers"`
	ParallelThreshold int         `yaml:"parallel_threshold"`
	ChunkSize         int         `yaml:"chunk_size"`
	Cache             CacheConfig `yaml:"cache"`
}

// CacheConfig defines caching settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// WorkspaceConfig defines workspace lifecycle settings.
type WorkspaceConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MaxWorkspaces   int           `yaml:"max_workspaces"`
}

// AuditConfig defines verdict logging settings.
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DBPath        string        `yaml:"db_path"`        // SQLite database path
	BufferSize    int           `yaml:"buffer_size"`    // Max records to buffer
	FlushInterval time.Duration `yaml:"flush_interval"` // How often to flush
	RetentionDays int           `yaml:"retention_days"` // Days to keep records (0 = forever)
}

// MetricsConfig defines Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// HealthConfig defines health check endpoint settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Address       string `yaml:"address"`
	Port          int    `yaml:"port"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr, or a file path
}
