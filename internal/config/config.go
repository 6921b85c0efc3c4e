// Package config loads bridge configuration from the environment and an
// optional YAML file. Environment variables use the BRIDGE_ prefix with
// underscores mapping to config keys (BRIDGE_SERVER_PORT -> server.port);
// the file, when present, provides the same keys and the environment wins.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	GitHub   GitHubConfig   `koanf:"github"`
	Account  AccountConfig  `koanf:"account"`
	Editor   EditorConfig   `koanf:"editor"`
	Rename   RenameConfig   `koanf:"rename"`
	Thinking ThinkingConfig `koanf:"thinking"`
	Models   ModelsConfig   `koanf:"models"`
	Recorder RecorderConfig `koanf:"recorder"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type GitHubConfig struct {
	// Token is the operator's long-lived token. When set it takes precedence
	// over any caller-supplied token; when empty each caller must supply one.
	Token string `koanf:"token"`
}

type AccountConfig struct {
	// Type selects the backend account tier ("individual", "business", ...).
	Type string `koanf:"type"`
}

type EditorConfig struct {
	// Version identifies the client environment to the backend.
	Version string `koanf:"version"`
}

type RenameConfig struct {
	// Auto enables pattern-based model renaming.
	Auto bool `koanf:"auto"`
	// Overrides maps backend model ids to client-facing names; entries take
	// priority over the pattern rules in both directions.
	Overrides map[string]string `koanf:"overrides"`
}

type ThinkingConfig struct {
	// Emulate enables thinking-block emulation on assistant output.
	Emulate bool `koanf:"emulate"`
}

type ModelsConfig struct {
	// CacheTTL bounds the model list cache, in seconds. 0 disables caching.
	CacheTTL int `koanf:"ttl"`
}

type RecorderConfig struct {
	// Path is the SQLite database for interaction recording; empty disables it.
	Path string `koanf:"path"`
}

// Load reads configuration. A config file path may come from BRIDGE_CONFIG;
// missing files are ignored so the bridge runs from environment alone.
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("BRIDGE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("BRIDGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "BRIDGE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Legacy flat environment names kept for compatibility with older
	// deployments.
	legacy := map[string]string{
		"GH_TOKEN":          "github.token",
		"PORT":              "server.port",
		"ACCOUNT_TYPE":      "account.type",
		"VSCODE_VERSION":    "editor.version",
		"MODELS_CACHE_TTL":  "models.ttl",
		"MODEL_RENAME_AUTO": "rename.auto",
	}
	for envName, key := range legacy {
		if v := os.Getenv(envName); v != "" && !k.Exists(key) {
			k.Set(key, v)
		}
	}

	defaults := map[string]any{
		"server.port":      4141,
		"log.level":        "info",
		"account.type":     "individual",
		"editor.version":   "1.100.0",
		"rename.auto":      true,
		"thinking.emulate": true,
		"models.ttl":       600,
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// The override table doesn't fit flat env vars; accept a JSON object in
	// MODEL_RENAME_MAP on top of whatever the file provided.
	if raw := os.Getenv("MODEL_RENAME_MAP"); raw != "" {
		overrides, err := parseRenameMap(raw)
		if err != nil {
			return nil, fmt.Errorf("MODEL_RENAME_MAP is not a valid JSON object: %w", err)
		}
		if cfg.Rename.Overrides == nil {
			cfg.Rename.Overrides = make(map[string]string, len(overrides))
		}
		for backend, client := range overrides {
			cfg.Rename.Overrides[backend] = client
		}
	}

	return &cfg, nil
}

func parseRenameMap(raw string) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
