// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/DoyleJ11/dungeon-lobby/internal/lobby"
	"github.com/DoyleJ11/dungeon-lobby/internal/server"
	"github.com/DoyleJ11/dungeon-lobby/internal/transport"
)

type Config struct {
	// Host is the lobby bind host; empty means all interfaces.
	Host     string
	Port     int
	Capacity int

	// HTTPAddr serves the admin API and websocket gateway; empty disables it.
	HTTPAddr string

	LogLevel       string
	LogDevelopment bool

	WriteTimeout time.Duration

	// DatabaseURL enables the Postgres round journal when set.
	DatabaseURL string
}

func Default() Config {
	return Config{
		Host:         "",
		Port:         server.DefaultPort,
		Capacity:     lobby.DefaultCapacity,
		HTTPAddr:     ":8080",
		LogLevel:     "info",
		WriteTimeout: transport.DefaultWriteTimeout,
	}
}

// Load reads an optional .env file in the working directory, then the
// process environment. Variables already set in the environment win.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, falling back to Default for unset
// variables.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if v, ok := lookup("LOBBY_HOST"); ok {
		cfg.Host = v
	}
	if v, ok := lookup("LOBBY_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			return Config{}, fmt.Errorf("config: LOBBY_PORT %q: must be a port number", v)
		}
		cfg.Port = port
	}
	if v, ok := lookup("LOBBY_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("config: LOBBY_CAPACITY %q: must be a positive integer", v)
		}
		cfg.Capacity = n
	}
	if v, ok := lookup("HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup("LOG_DEVELOPMENT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: LOG_DEVELOPMENT %q: %w", v, err)
		}
		cfg.LogDevelopment = b
	}
	if v, ok := lookup("WRITE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("config: WRITE_TIMEOUT %q: must be a positive duration", v)
		}
		cfg.WriteTimeout = d
	}
	if v, ok := lookup("DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	return cfg, nil
}
