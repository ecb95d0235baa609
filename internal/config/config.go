// Package config provides centralized configuration management. Defaults
// live here; environment variables override them at load time.
package config

import (
	"os"
	"strconv"
	"time"
)

// GameConfig holds the lockstep session settings.
type GameConfig struct {
	ClientID          int           // This client's network id
	Admin             bool          // Whether this process is the session authority
	GameSpeed         int           // Advance calls per advance message
	AdvanceInterval   time.Duration // Wall-clock spacing between advance messages
	SyncCheckInterval int           // Checksum cadence K (every K-th advance message)
	MessageLogPath    string        // Append-only message log (empty disables file output)
}

// DefaultGame returns the default game configuration.
func DefaultGame() GameConfig {
	return GameConfig{
		ClientID:          1,
		Admin:             true,
		GameSpeed:         1,
		AdvanceInterval:   250 * time.Millisecond,
		SyncCheckInterval: 10,
		MessageLogPath:    "messages.jsonl",
	}
}

// GameFromEnv returns game configuration with environment overrides.
func GameFromEnv() GameConfig {
	cfg := DefaultGame()

	if id := getEnvInt("IRONFRONT_CLIENT_ID", 0); id > 0 {
		cfg.ClientID = id
	}
	if os.Getenv("IRONFRONT_ADMIN") == "false" {
		cfg.Admin = false
	}
	if sp := getEnvInt("IRONFRONT_GAME_SPEED", 0); sp > 0 {
		cfg.GameSpeed = sp
	}
	if ms := getEnvInt("IRONFRONT_ADVANCE_INTERVAL_MS", 0); ms > 0 {
		cfg.AdvanceInterval = time.Duration(ms) * time.Millisecond
	}
	if k := getEnvInt("IRONFRONT_SYNC_CHECK_INTERVAL", 0); k > 0 {
		cfg.SyncCheckInterval = k
	}
	if p := os.Getenv("IRONFRONT_MESSAGE_LOG"); p != "" {
		cfg.MessageLogPath = p
	}

	return cfg
}

// WorldConfig holds the simulation world settings.
type WorldConfig struct {
	Width  int // World width in cells
	Height int // World height in cells
}

// DefaultWorld returns the default world configuration.
func DefaultWorld() WorldConfig {
	return WorldConfig{Width: 64, Height: 64}
}

// WorldFromEnv returns world configuration with environment overrides.
func WorldFromEnv() WorldConfig {
	cfg := DefaultWorld()
	if w := getEnvInt("IRONFRONT_WORLD_WIDTH", 0); w > 0 {
		cfg.Width = w
	}
	if h := getEnvInt("IRONFRONT_WORLD_HEIGHT", 0); h > 0 {
		cfg.Height = h
	}
	return cfg
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port       int
	MaxClients int
	AdminToken string // Guards mutating control endpoints (empty leaves them open)
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:       3000,
		MaxClients: 32,
	}
}

// ServerFromEnv returns server configuration with environment overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()
	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if mc := getEnvInt("IRONFRONT_MAX_CLIENTS", 0); mc > 0 {
		cfg.MaxClients = mc
	}
	cfg.AdminToken = os.Getenv("IRONFRONT_ADMIN_TOKEN")
	return cfg
}

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Game   GameConfig
	World  WorldConfig
	Server ServerConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Game:   GameFromEnv(),
		World:  WorldFromEnv(),
		Server: ServerFromEnv(),
	}
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
