package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/caarlos0/env/v11"
)

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < env vars < JSON config file < CLI flags.
type AppConfig struct {
	// Server
	DB   string `json:"db" env:"DB"`     // database connection string
	Dev  bool   `json:"dev" env:"DEV"`   // dev mode: verbose logging, db dumps on errors
	Addr string `json:"addr" env:"ADDR"` // HTTP listen address

	// Game
	Area            string `json:"area" env:"AREA"`                           // area used when a request names none
	HistoryLimit    int    `json:"history_limit" env:"HISTORY_LIMIT"`         // results kept per area, 0 = all
	AutoAssignRoles bool   `json:"auto_assign_roles" env:"AUTO_ASSIGN_ROLES"` // deal roles when the fifth player joins

	// Logging (extended diagnostics, off by default)
	LogOutputDir string `json:"log_output_dir" env:"LOG_OUTPUT_DIR"`
	LogRequests  bool   `json:"log_requests" env:"LOG_REQUESTS"`
	LogDB        bool   `json:"log_db" env:"LOG_DB"`
	LogWS        bool   `json:"log_ws" env:"LOG_WS"`
	LogDebug     bool   `json:"log_debug" env:"LOG_DEBUG"`

	// AI Storyteller
	StorytellerProvider    string `json:"storyteller_provider" env:"STORYTELLER_PROVIDER"`       // ollama | openai | claude | gemini | groq | openai-compatible
	StorytellerModel       string `json:"storyteller_model" env:"STORYTELLER_MODEL"`             // model name
	StorytellerOllamaURL   string `json:"storyteller_ollama_url" env:"STORYTELLER_OLLAMA_URL"`   // Ollama server URL
	StorytellerURL         string `json:"storyteller_url" env:"STORYTELLER_URL"`                 // base URL for openai-compatible
	StorytellerAPIKey      string `json:"storyteller_api_key" env:"STORYTELLER_API_KEY"`         // API key for openai-compatible
	StorytellerTemperature string `json:"storyteller_temperature" env:"STORYTELLER_TEMPERATURE"` // float 0-1 as string
	StorytellerThinking    string `json:"storyteller_thinking" env:"STORYTELLER_THINKING"`       // none | low | medium | high | auto
	GroqAPIKey             string `json:"groq_api_key" env:"GROQ_API_KEY"`                       // API key for groq provider
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogDB:       cfg.LogDB,
		LogWS:       cfg.LogWS,
		Debug:       cfg.LogDebug || cfg.Dev,
	}
}

func (cfg AppConfig) toAreaOptions() AreaOptions {
	return AreaOptions{
		HistoryLimit:    cfg.HistoryLimit,
		AutoAssignRoles: cfg.AutoAssignRoles,
	}
}

func defaultConfig() AppConfig {
	return AppConfig{
		DB:                   "file::memory:?cache=shared",
		Addr:                 ":8080",
		Area:                 "town-square",
		HistoryLimit:         50,
		AutoAssignRoles:      true,
		StorytellerOllamaURL: "http://localhost:11434",
	}
}

// loadConfig builds a config by layering: defaults → env vars → JSON config file.
// CLI flag overrides are applied separately by flagValues.applyTo after flag.Parse.
func loadConfig(configPath string) AppConfig {
	cfg := defaultConfig()

	// Layer 1: env vars. Unset variables keep the defaults.
	if err := env.Parse(&cfg); err != nil {
		log.Printf("Config: failed to parse environment: %v", err)
	}

	// Layer 2: JSON config file. Only fields present in the file override env vars
	if data, err := os.ReadFile(configPath); err == nil {
		var overlay map[string]json.RawMessage
		if err := json.Unmarshal(data, &overlay); err != nil {
			log.Printf("Config: failed to parse %s: %v", configPath, err)
		} else {
			applyJSONOverlay(&cfg, overlay)
			log.Printf("Config: loaded from %s", configPath)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("Config: failed to read %s: %v", configPath, err)
	}

	return cfg
}

// applyJSONOverlay only sets fields that are explicitly present in the JSON map.
func applyJSONOverlay(cfg *AppConfig, m map[string]json.RawMessage) {
	field := func(key string, dst any) {
		if v, ok := m[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				log.Printf("Config: bad value for %q: %v", key, err)
			}
		}
	}
	field("db", &cfg.DB)
	field("dev", &cfg.Dev)
	field("addr", &cfg.Addr)
	field("area", &cfg.Area)
	field("history_limit", &cfg.HistoryLimit)
	field("auto_assign_roles", &cfg.AutoAssignRoles)
	field("log_output_dir", &cfg.LogOutputDir)
	field("log_requests", &cfg.LogRequests)
	field("log_db", &cfg.LogDB)
	field("log_ws", &cfg.LogWS)
	field("log_debug", &cfg.LogDebug)
	field("storyteller_provider", &cfg.StorytellerProvider)
	field("storyteller_model", &cfg.StorytellerModel)
	field("storyteller_ollama_url", &cfg.StorytellerOllamaURL)
	field("storyteller_url", &cfg.StorytellerURL)
	field("storyteller_api_key", &cfg.StorytellerAPIKey)
	field("storyteller_temperature", &cfg.StorytellerTemperature)
	field("storyteller_thinking", &cfg.StorytellerThinking)
	field("groq_api_key", &cfg.GroqAPIKey)
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	configPath             *string
	db                     *string
	dev                    *bool
	addr                   *string
	area                   *string
	historyLimit           *int
	autoAssignRoles        *bool
	logOutputDir           *string
	logRequests            *bool
	logDB                  *bool
	logWS                  *bool
	logDebug               *bool
	storytellerProvider    *string
	storytellerModel       *string
	storytellerOllamaURL   *string
	storytellerURL         *string
	storytellerAPIKey      *string
	storytellerTemperature *string
	storytellerThinking    *string
	groqAPIKey             *string
}

// registerFlags registers all CLI flags on fs and returns pointers to their values.
// Parse fs after this, then applyTo to layer them over the loaded config.
func registerFlags(fs *flag.FlagSet) flagValues {
	return flagValues{
		configPath:             fs.String("config", "config.json", "path to JSON config file"),
		db:                     fs.String("db", "", "database connection string"),
		dev:                    fs.Bool("dev", false, "enable development mode (verbose logging, db dumps on error)"),
		addr:                   fs.String("addr", "", "HTTP listen address (e.g. :8080)"),
		area:                   fs.String("area", "", "default area name"),
		historyLimit:           fs.Int("history-limit", 0, "results kept per area (0 = all)"),
		autoAssignRoles:        fs.Bool("auto-assign-roles", true, "deal roles as soon as the fifth player joins"),
		logOutputDir:           fs.String("log-output-dir", "", "directory for extended log files"),
		logRequests:            fs.Bool("log-requests", false, "log HTTP requests and responses"),
		logDB:                  fs.Bool("log-db", false, "log database dumps"),
		logWS:                  fs.Bool("log-ws", false, "log WebSocket messages"),
		logDebug:               fs.Bool("log-debug", false, "enable debug logging"),
		storytellerProvider:    fs.String("storyteller-provider", "", "AI storyteller provider (ollama|openai|claude|gemini|groq|openai-compatible)"),
		storytellerModel:       fs.String("storyteller-model", "", "AI storyteller model name"),
		storytellerOllamaURL:   fs.String("storyteller-ollama-url", "", "Ollama server URL"),
		storytellerURL:         fs.String("storyteller-url", "", "base URL for openai-compatible provider"),
		storytellerAPIKey:      fs.String("storyteller-api-key", "", "API key for storyteller provider"),
		storytellerTemperature: fs.String("storyteller-temperature", "", "sampling temperature 0-1"),
		storytellerThinking:    fs.String("storyteller-thinking", "", "thinking mode: none|low|medium|high|auto"),
		groqAPIKey:             fs.String("groq-api-key", "", "Groq API key"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/JSON values win).
func (fv flagValues) applyTo(fs *flag.FlagSet, cfg *AppConfig) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *fv.db
		case "dev":
			cfg.Dev = *fv.dev
		case "addr":
			cfg.Addr = *fv.addr
		case "area":
			cfg.Area = *fv.area
		case "history-limit":
			cfg.HistoryLimit = *fv.historyLimit
		case "auto-assign-roles":
			cfg.AutoAssignRoles = *fv.autoAssignRoles
		case "log-output-dir":
			cfg.LogOutputDir = *fv.logOutputDir
		case "log-requests":
			cfg.LogRequests = *fv.logRequests
		case "log-db":
			cfg.LogDB = *fv.logDB
		case "log-ws":
			cfg.LogWS = *fv.logWS
		case "log-debug":
			cfg.LogDebug = *fv.logDebug
		case "storyteller-provider":
			cfg.StorytellerProvider = *fv.storytellerProvider
		case "storyteller-model":
			cfg.StorytellerModel = *fv.storytellerModel
		case "storyteller-ollama-url":
			cfg.StorytellerOllamaURL = *fv.storytellerOllamaURL
		case "storyteller-url":
			cfg.StorytellerURL = *fv.storytellerURL
		case "storyteller-api-key":
			cfg.StorytellerAPIKey = *fv.storytellerAPIKey
		case "storyteller-temperature":
			cfg.StorytellerTemperature = *fv.storytellerTemperature
		case "storyteller-thinking":
			cfg.StorytellerThinking = *fv.storytellerThinking
		case "groq-api-key":
			cfg.GroqAPIKey = *fv.groqAPIKey
		}
	})
}
