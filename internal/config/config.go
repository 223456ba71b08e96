package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/tourlab/termbroker/internal/fileutil"
)

type Config struct {
	// Server
	Port      int
	Host      string
	Env       string
	Version   string
	LogLevel  string
	LogFormat string

	// WebSocket
	DebugWebSocket    bool
	BroadcastCapacity int

	// Exercises
	ExercisesPath string
	WatchFiles    bool

	// Terminal
	Shell string
	Term  string

	// CORS
	CORSAllowedOrigins []string
}

func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnvAsInt("PORT", 3000),
		Host:               getEnv("HOST", "0.0.0.0"),
		Env:                getEnv("ENV", "development"),
		Version:            getEnv("VERSION", "0.1.0"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		DebugWebSocket:     getEnvAsBool("DEBUG_WEBSOCKET", false),
		BroadcastCapacity:  getEnvAsInt("BROADCAST_CAPACITY", 100),
		ExercisesPath:      getEnv("EXERCISES_PATH", "./exercises"),
		WatchFiles:         getEnvAsBool("WATCH_FILES", true),
		Shell:              getEnv("TERMINAL_SHELL", "bash"),
		Term:               getEnv("TERMINAL_TERM", "xterm-color"),
		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	return cfg, nil
}

// Validate checks the values and resolves ExercisesPath to an absolute
// directory. Call it after flags have been applied.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BroadcastCapacity < 1 {
		return fmt.Errorf("broadcast capacity must be positive, got %d", c.BroadcastCapacity)
	}
	if c.Shell == "" {
		return fmt.Errorf("terminal shell must not be empty")
	}

	root, err := fileutil.ResolveRoot(c.ExercisesPath)
	if err != nil {
		return fmt.Errorf("exercises path: %w", err)
	}
	c.ExercisesPath = root
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
