// Package config loads the process-wide configuration table. It is
// the only place environment variables are read; everything downstream takes
// a Config value (or a narrower slice of it) explicitly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is process-wide and immutable once Load returns.
type Config struct {
	Port        int
	StoragePath string
	LogLevel    string

	EmbedDim int

	ANN_R     int
	ANN_L     int
	ANN_Alpha float64

	EmbedProvider string // "fastembed" | "ollama" | "dummy"
	EmbedModel    string
	OllamaHost    string

	// Tunables with no single agreed-upon constant. These fields carry the
	// built-in defaults only: Load does not read them from the environment,
	// and the graph, retriever and episodes packages use their own package
	// constants rather than these fields.
	DMax          int
	Decay         float64
	EtaEpisode    float64
	EtaRetrieval  float64
	DecayLambda   float64
	SchedulerTick time.Duration

	SnapshotEventThreshold int
	SnapshotInterval       time.Duration
	FsyncBatchSize         int
	FsyncInterval          time.Duration
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Port:          3030,
		StoragePath:   "./shodh_memory_data",
		LogLevel:      "info",
		EmbedDim:      384,
		ANN_R:         32,
		ANN_L:         64,
		ANN_Alpha:     1.2,
		EmbedProvider: "",
		EmbedModel:    "",
		OllamaHost:    "http://localhost:11434",
		DMax:          3,
		Decay:         0.5,
		EtaEpisode:    0.1,
		EtaRetrieval:  0.05,
		DecayLambda:   0.02,
		SchedulerTick: 1 * time.Second,

		SnapshotEventThreshold: 10000,
		SnapshotInterval:       10 * time.Minute,
		FsyncBatchSize:         32,
		FsyncInterval:          200 * time.Millisecond,
	}
}

// Load reads the configuration table from the environment, falling back
// to Default() for anything unset. A malformed numeric value is returned
// as an error.
func Load() (Config, error) {
	cfg := Default()

	if v := os.Getenv("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid PORT %q: %w", v, err)
		}
		cfg.Port = n
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EMBED_DIM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid EMBED_DIM %q: %w", v, err)
		}
		cfg.EmbedDim = n
	}
	if v := os.Getenv("ANN_R"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid ANN_R %q: %w", v, err)
		}
		cfg.ANN_R = n
	}
	if v := os.Getenv("ANN_L"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid ANN_L %q: %w", v, err)
		}
		cfg.ANN_L = n
	}
	if v := os.Getenv("ANN_ALPHA"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid ANN_ALPHA %q: %w", v, err)
		}
		cfg.ANN_Alpha = f
	}
	if v := os.Getenv("EMBED_PROVIDER"); v != "" {
		cfg.EmbedProvider = v
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		cfg.EmbedModel = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.OllamaHost = v
	}
	return cfg, nil
}
