package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPaths     configList
	RequireHealthy  bool
	Threads         int
	LogLevel        string
	LogFormat       string
	APIPort         int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

// configList makes --config repeatable; later files override earlier ones
// key by key.
type configList []string

func (c *configList) String() string { return strings.Join(*c, ",") }

func (c *configList) Set(value string) error {
	*c = append(*c, value)
	return nil
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.Var(&cfg.ConfigPaths, "config",
		"Path to a configuration file; repeatable (env: EVENTFLOW_CONFIG)")

	flag.BoolVar(&cfg.RequireHealthy, "require-healthy",
		getEnvBool("EVENTFLOW_REQUIRE_HEALTHY", false),
		"Fail startup when a sink healthcheck fails (env: EVENTFLOW_REQUIRE_HEALTHY)")

	flag.IntVar(&cfg.Threads, "threads",
		getEnvInt("EVENTFLOW_THREADS", 0),
		"Cap on OS threads executing the pipeline, 0 for the runtime default (env: EVENTFLOW_THREADS)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("EVENTFLOW_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: EVENTFLOW_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("EVENTFLOW_LOG_FORMAT", "json"),
		"Log format: json, text (env: EVENTFLOW_LOG_FORMAT)")

	flag.IntVar(&cfg.APIPort, "api-port",
		getEnvInt("EVENTFLOW_API_PORT", 9090),
		"Port for the metrics, health, and tap endpoints, 0 to disable (env: EVENTFLOW_API_PORT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("EVENTFLOW_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: EVENTFLOW_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Parse()

	if len(cfg.ConfigPaths) == 0 {
		if env := os.Getenv("EVENTFLOW_CONFIG"); env != "" {
			cfg.ConfigPaths = strings.Split(env, ",")
		}
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	if len(cfg.ConfigPaths) == 0 {
		return fmt.Errorf("at least one --config file is required")
	}
	for _, p := range cfg.ConfigPaths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config file not found: %s", p)
		}
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.Threads < 0 {
		return fmt.Errorf("invalid thread count: %d", cfg.Threads)
	}
	if cfg.APIPort < 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api port: %d", cfg.APIPort)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
