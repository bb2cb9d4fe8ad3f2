package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	DataDir          string `json:"data_dir"`
	LogLevel         string `json:"log_level"`
	MaxConcurrent    int    `json:"max_concurrent"`
	MaxToolRounds    int    `json:"max_tool_rounds"`
	SystemPromptPath string `json:"system_prompt_path"`
	LLM              struct {
		Provider         string  `json:"provider"`
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
	} `json:"llm"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Stream struct {
		TimeoutSeconds int `json:"timeout_seconds"`
	} `json:"stream"`
	Widget struct {
		MountDelayMS   int `json:"mount_delay_ms"`
		HideGraceMS    int `json:"hide_grace_ms"`
		RestoreDelayMS int `json:"restore_delay_ms"`
		ExpandDelayMS  int `json:"expand_delay_ms"`
	} `json:"widget"`
	Hazards struct {
		FeedPath        string  `json:"feed_path"`
		RadiusKm        float64 `json:"radius_km"`
		CacheTTLSeconds int     `json:"cache_ttl_seconds"`
	} `json:"hazards"`
}

// DefaultPath is ~/.wosafety/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".wosafety", "config.json")
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".wosafety"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.MaxToolRounds = 10
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.2
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8080"
	cfg.Stream.TimeoutSeconds = 60
	cfg.Widget.MountDelayMS = 100
	cfg.Widget.HideGraceMS = 200
	cfg.Widget.RestoreDelayMS = 500
	cfg.Widget.ExpandDelayMS = 200
	cfg.Hazards.RadiusKm = 50
	cfg.Hazards.CacheTTLSeconds = 300
	return cfg
}

// Load reads the config at path over the defaults, writing the defaults
// when the file does not exist. Environment overrides are applied last and
// never written back.
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if listen := os.Getenv("WOSAFETY_HTTP_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}

	return cfg, nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its nested JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every setting under its dotted key, optionally with
// secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored in the file under a dotted key. The
// file is created with defaults when missing.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dotted key. The key must be a known
// setting; value is parsed according to the setting's type.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	kind, ok := keyKinds()[key]
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	typed, err := parseValue(kind, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	flat := Flatten(m)
	flat[key] = typed
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// StreamTimeout is the idle timeout of a fragment subscription.
func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.Stream.TimeoutSeconds) * time.Second
}

// WidgetDelays returns mount, hide grace, restore and expand delays.
func (c *Config) WidgetDelays() (mount, grace, restore, expand time.Duration) {
	return millis(c.Widget.MountDelayMS), millis(c.Widget.HideGraceMS),
		millis(c.Widget.RestoreDelayMS), millis(c.Widget.ExpandDelayMS)
}

// HazardCacheTTL is how long hazard query results are reused.
func (c *Config) HazardCacheTTL() time.Duration {
	return time.Duration(c.Hazards.CacheTTLSeconds) * time.Second
}
