// Package config holds amnesiad configuration: typed defaults plus
// environment overrides, with optional .env bootstrap.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all amnesiad configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Mining   MiningConfig
	LogLevel string
}

type ServerConfig struct {
	Bind string
	Port int
}

type DatabaseConfig struct {
	Path string // empty resolves to store.DefaultDBPath() at runtime
}

type MiningConfig struct {
	Miner    string        // identity stamped on auto-mined blocks
	AutoMine bool          // mine pending transactions on a timer
	Interval time.Duration // auto-mining cadence
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38866,
		},
		Mining: MiningConfig{
			Miner:    "amnesiad",
			AutoMine: false,
			Interval: time.Minute,
		},
		LogLevel: "info",
	}
}

// Load returns the defaults with environment overrides applied. A .env
// file in the working directory is read first when present; real
// environment variables win over it.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg(".env loaded")
	}

	cfg := Default()
	if v := os.Getenv("AMNESIAD_ADDR"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("AMNESIAD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			log.Warn().Str("value", v).Msg("ignoring invalid AMNESIAD_PORT")
		}
	}
	if v := os.Getenv("AMNESIAD_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("AMNESIAD_MINER"); v != "" {
		cfg.Mining.Miner = v
	}
	if v := os.Getenv("AMNESIAD_AUTOMINE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Mining.AutoMine = b
		} else {
			log.Warn().Str("value", v).Msg("ignoring invalid AMNESIAD_AUTOMINE")
		}
	}
	if v := os.Getenv("AMNESIAD_MINING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Mining.Interval = d
		} else {
			log.Warn().Str("value", v).Msg("ignoring invalid AMNESIAD_MINING_INTERVAL")
		}
	}
	if v := os.Getenv("AMNESIAD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
