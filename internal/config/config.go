package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration from a YAML file, then applies
// defaults and environment variable overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = "1.0"
	}

	// Server defaults
	if cfg.Server.Listen.Address == "" {
		cfg.Server.Listen.Address = "0.0.0.0"
	}
	if cfg.Server.Listen.Port == 0 {
		cfg.Server.Listen.Port = 8000
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.GracefulShutdown == 0 {
		cfg.Server.GracefulShutdown = 30 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 32 << 20
	}
	cfg.Server.Security.EnableSecurityHeaders = true

	// Engine defaults
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 4
	}
	if cfg.Engine.ParallelThreshold == 0 {
		cfg.Engine.ParallelThreshold = 1000
	}
	if cfg.Engine.ChunkSize == 0 {
		cfg.Engine.ChunkSize = 256
	}
	if cfg.Engine.Cache.TTL == 0 {
		cfg.Engine.Cache.TTL = 10 * time.Minute
	}
	if cfg.Engine.Cache.MaxEntries == 0 {
		cfg.Engine.Cache.MaxEntries = 10000
	}

	// Workspace defaults
	if cfg.Workspace.TTL == 0 {
		cfg.Workspace.TTL = 24 * time.Hour
	}
	if cfg.Workspace.CleanupInterval == 0 {
		cfg.Workspace.CleanupInterval = 5 * time.Minute
	}
	if cfg.Workspace.MaxWorkspaces == 0 {
		cfg.Workspace.MaxWorkspaces = 1000
	}

	// Audit defaults
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = "verdicts.db"
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 1000
	}
	if cfg.Audit.FlushInterval == 0 {
		cfg.Audit.FlushInterval = time.Second
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 30
	}

	// Metrics and health are disabled unless configured.
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "0.0.0.0"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "expense_compliance"
	}
	if cfg.Health.Address == "" {
		cfg.Health.Address = "0.0.0.0"
	}
	if cfg.Health.Port == 0 {
		cfg.Health.Port = 9090
	}
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = "/health"
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = "/ready"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// envMappings maps environment variables to their setters.
func envMappings(cfg *Config) map[string]func(string) {
	return map[string]func(string){
		"COMPLIANCE_SERVER_PORT":        func(v string) { cfg.Server.Listen.Port = parseInt(v, cfg.Server.Listen.Port) },
		"COMPLIANCE_SERVER_ADDRESS":     func(v string) { cfg.Server.Listen.Address = v },
		"COMPLIANCE_POLICY_DIR":         func(v string) { cfg.Policy.PolicyDir = v },
		"COMPLIANCE_POLICY_CROSS_CHECK": func(v string) { cfg.Policy.CrossCheck = parseBool(v) },
		"COMPLIANCE_ENGINE_WORKERS":     func(v string) { cfg.Engine.Workers = parseInt(v, cfg.Engine.Workers) },
		"COMPLIANCE_ENGINE_CACHE":       func(v string) { cfg.Engine.Cache.Enabled = parseBool(v) },
		"COMPLIANCE_WORKSPACE_TTL":      func(v string) { cfg.Workspace.TTL = parseDuration(v, cfg.Workspace.TTL) },
		"COMPLIANCE_WORKSPACE_MAX":      func(v string) { cfg.Workspace.MaxWorkspaces = parseInt(v, cfg.Workspace.MaxWorkspaces) },
		"COMPLIANCE_AUDIT_ENABLED":      func(v string) { cfg.Audit.Enabled = parseBool(v) },
		"COMPLIANCE_AUDIT_DB_PATH":      func(v string) { cfg.Audit.DBPath = v },
		"COMPLIANCE_METRICS_ENABLED":    func(v string) { cfg.Metrics.Enabled = parseBool(v) },
		"COMPLIANCE_METRICS_PORT":       func(v string) { cfg.Metrics.Port = parseInt(v, cfg.Metrics.Port) },
		"COMPLIANCE_HEALTH_ENABLED":     func(v string) { cfg.Health.Enabled = parseBool(v) },
		"COMPLIANCE_HEALTH_PORT":        func(v string) { cfg.Health.Port = parseInt(v, cfg.Health.Port) },
		"COMPLIANCE_LOGGING_LEVEL":      func(v string) { cfg.Logging.Level = v },
		"COMPLIANCE_LOGGING_FORMAT":     func(v string) { cfg.Logging.Format = v },
	}
}

// applyEnvOverrides applies COMPLIANCE_<SECTION>_<KEY> environment overrides.
func applyEnvOverrides(cfg *Config) {
	for env, setter := range envMappings(cfg) {
		if value := os.Getenv(env); value != "" {
			setter(value)
		}
	}

	if origins := os.Getenv("COMPLIANCE_SERVER_CORS_ORIGINS"); origins != "" {
		cfg.Server.Security.CORSAllowedOrigins = strings.Split(origins, ",")
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Listen.Port < 1 || cfg.Server.Listen.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Listen.Port)
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}
	if cfg.Health.Enabled && (cfg.Health.Port < 1 || cfg.Health.Port > 65535) {
		return fmt.Errorf("invalid health port: %d", cfg.Health.Port)
	}

	if cfg.Engine.Workers < 1 {
		return fmt.Errorf("invalid engine workers: %d (must be at least 1)", cfg.Engine.Workers)
	}
	if cfg.Engine.ChunkSize < 1 {
		return fmt.Errorf("invalid engine chunk size: %d", cfg.Engine.ChunkSize)
	}
	if cfg.Workspace.MaxWorkspaces < 1 {
		return fmt.Errorf("invalid max workspaces: %d", cfg.Workspace.MaxWorkspaces)
	}
	if cfg.Audit.Enabled && cfg.Audit.RetentionDays < 0 {
		return fmt.Errorf("invalid audit retention days: %d", cfg.Audit.RetentionDays)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", cfg.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", cfg.Logging.Format)
	}

	return nil
}

// parseInt parses a string to int, returning defaultVal on error.
func parseInt(s string, defaultVal int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultVal
}

// parseDuration parses a Go duration, returning defaultVal on error.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return defaultVal
}

// parseBool parses a string to bool.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

// String returns a one-line summary of the config for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{version=%s, server=%s:%d, workers=%d, audit=%t, metrics=%t}",
		c.Version, c.Server.Listen.Address, c.Server.Listen.Port, c.Engine.Workers, c.Audit.Enabled, c.Metrics.Enabled)
}

// GetEnvMapping returns a map of configuration paths to environment variable names.
func GetEnvMapping() map[string]string {
	return map[string]string{
		"server.port":              "COMPLIANCE_SERVER_PORT",
		"server.address":           "COMPLIANCE_SERVER_ADDRESS",
		"server.cors_origins":      "COMPLIANCE_SERVER_CORS_ORIGINS",
		"policy.policy_dir":        "COMPLIANCE_POLICY_DIR",
		"policy.cross_check":       "COMPLIANCE_POLICY_CROSS_CHECK",
		"engine.workers":           "COMPLIANCE_ENGINE_WORKERS",
		"engine.cache.enabled":     "COMPLIANCE_ENGINE_CACHE",
		"workspace.ttl":            "COMPLIANCE_WORKSPACE_TTL",
		"workspace.max_workspaces": "COMPLIANCE_WORKSPACE_MAX",
		"audit.enabled":            "COMPLIANCE_AUDIT_ENABLED",
		"audit.db_path":            "COMPLIANCE_AUDIT_DB_PATH",
		"metrics.enabled":          "COMPLIANCE_METRICS_ENABLED",
		"metrics.port":             "COMPLIANCE_METRICS_PORT",
		"health.enabled":           "COMPLIANCE_HEALTH_ENABLED",
		"health.port":              "COMPLIANCE_HEALTH_PORT",
		"logging.level":            "COMPLIANCE_LOGGING_LEVEL",
		"logging.format":           "COMPLIANCE_LOGGING_FORMAT",
	}
}
