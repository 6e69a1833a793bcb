package config

import (
	"encoding/json"
	"flag"
	"os"
	"strings"
)

type Config struct {
	Port       string `json:"port"`
	ProfileDir string `json:"profileDir"`
	LogLevel   string `json:"logLevel"` // trace/debug/info/warn/error
	LogPretty  bool   `json:"logPretty"`
}

func def() Config {
	return Config{
		Port:       "8080",
		ProfileDir: "profiles",
		LogLevel:   "info",
		LogPretty:  false,
	}
}

func loadJSON(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

// LoadWithPath читает JSON по указанному пути, потом применяет ENV и флаги.
func LoadWithPath(jsonPath string) Config {
	cfg := def()

	// JSON (если файл существует)
	if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
		if c2, err := loadJSON(jsonPath); err == nil {
			cfg = c2
		}
	}

	// ENV overrides
	cfg.Port = getenv("SHRIKE_PORT", cfg.Port)
	cfg.ProfileDir = getenv("SHRIKE_PROFILE_DIR", cfg.ProfileDir)
	cfg.LogLevel = getenv("SHRIKE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getenvBool("SHRIKE_LOG_PRETTY", cfg.LogPretty)

	// Flags overrides
	configPath := flag.String("config", jsonPath, "Path to config JSON")
	port := flag.String("port", cfg.Port, "HTTP port")
	profiles := flag.String("profiles", cfg.ProfileDir, "Path to profile directory")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (trace/debug/info/warn/error)")
	logPretty := flag.Bool("log-pretty", cfg.LogPretty, "Human-readable log output")

	flag.Parse()

	// Если через флаг передали другой конфиг — перечитаем
	if *configPath != jsonPath {
		return LoadWithPath(*configPath)
	}

	cfg.Port = strings.TrimSpace(*port)
	cfg.ProfileDir = strings.TrimSpace(*profiles)
	cfg.LogLevel = strings.TrimSpace(*logLevel)
	cfg.LogPretty = *logPretty

	return cfg
}
