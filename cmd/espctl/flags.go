package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds the global command-line configuration
type CLIConfig struct {
	ConfigPath  string
	Host        string
	Port        int
	LogLevel    string
	LogFormat   string
	MetricsAddr string
	Timeout     time.Duration
	Output      string
	ShowVersion bool
	ShowHelp    bool

	Command string
	Args    []string

	flags *flag.FlagSet
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cfg.flags = fs

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("ESPCLIENT_CONFIG", ""),
		"Path to a YAML or JSON configuration file (env: ESPCLIENT_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("ESPCLIENT_CONFIG", ""),
		"Path to a YAML or JSON configuration file (env: ESPCLIENT_CONFIG)")

	fs.StringVar(&cfg.Host, "host", "",
		"ESP server host or URL, overrides config and ESPHOST")
	fs.IntVar(&cfg.Port, "port", getEnvInt("ESPCLIENT_PORT", 0),
		"ESP server HTTP port, overrides config and ESPPORT (env: ESPCLIENT_PORT)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("ESPCLIENT_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: ESPCLIENT_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("ESPCLIENT_LOG_FORMAT", "text"),
		"Log format: json, text (env: ESPCLIENT_LOG_FORMAT)")

	fs.StringVar(&cfg.MetricsAddr, "metrics-addr",
		getEnv("ESPCLIENT_METRICS_ADDR", ""),
		"Serve Prometheus metrics on this address, empty to disable (env: ESPCLIENT_METRICS_ADDR)")

	fs.DurationVar(&cfg.Timeout, "timeout",
		getEnvDuration("ESPCLIENT_TIMEOUT", 0),
		"REST request timeout, 0 keeps the configured value (env: ESPCLIENT_TIMEOUT)")

	fs.StringVar(&cfg.Output, "o", "table", "Output format for listings: table, json")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		cfg.Command = rest[0]
		cfg.Args = rest[1:]
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}
	if cfg.Command == "" {
		return fmt.Errorf("no command given")
	}
	if _, ok := commands[cfg.Command]; !ok {
		return fmt.Errorf("unknown command: %s", cfg.Command)
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if !contains([]string{"table", "json"}, cfg.Output) {
		return fmt.Errorf("invalid output format: %s", cfg.Output)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - command line client for ESP servers

Usage: %s [options] <command> [command options]

Commands:
`, appName, appName)
	for _, name := range commandNames() {
		_, _ = fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, commands[name].summary)
	}
	_, _ = fmt.Fprintf(os.Stderr, "\nOptions:\n")
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Show server information
  %s -host esp.example.com -port 31415 info

  # Load and start a project
  %s load -name trades model.xml

  # Print events from two windows as they arrive
  %s subscribe trades.cq.src trades.cq.big

  # Forward windows to NATS with metrics on :9090
  export ESPHOST=esp.example.com ESPPORT=31415
  %s -config bridge.yaml -metrics-addr :9090 bridge

Version: %s
Build: %s
`, appName, appName, appName, appName, Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
