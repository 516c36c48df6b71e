package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds CLI configuration.
// Priority: flags > env vars > defaults.
type Config struct {
	DBPath      string
	LogLevel    string
	Concurrency int
	NodeTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		LogLevel:    "info",
		Concurrency: 4,
	}
}

func flowgraphDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowgraph"
	}
	return filepath.Join(home, ".flowgraph")
}

func loadConfig() Config {
	cfg := defaultConfig()

	if v := os.Getenv("FLOWGRAPH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWGRAPH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWGRAPH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("FLOWGRAPH_NODE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.NodeTimeout = d
		}
	}

	return cfg
}
