package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "TELEGRAM_BOT_TOKEN", "WOSAFETY_HTTP_LISTEN"} {
		t.Setenv(k, "")
	}
}

func TestSaveReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := Default()
	original.DataDir = "/tmp/wosafety-test"
	original.LLM.APIKey = "sk-round-trip"
	original.LLM.Temperature = 0.5
	original.Telegram.Token = "bot-token"
	original.Hazards.FeedPath = "/var/lib/hazards.geojson"
	original.Hazards.RadiusKm = 25
	original.Widget.HideGraceMS = 300

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	a, _ := json.Marshal(original)
	b, _ := json.Marshal(loaded)
	if string(a) != string(b) {
		t.Errorf("round trip mismatch:\n saved  %s\n loaded %s", a, b)
	}
}

func TestSaveAtomicAndCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	if err := Save(path, Default()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("WOSAFETY_HTTP_LISTEN", ":7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("expected env api key, got %q", cfg.LLM.APIKey)
	}
	if cfg.HTTP.Listen != ":7000" {
		t.Errorf("expected env listen address, got %q", cfg.HTTP.Listen)
	}
	if cfg.StreamTimeout() != 60*time.Second {
		t.Errorf("expected 60s stream timeout, got %v", cfg.StreamTimeout())
	}
	mount, grace, restore, expand := cfg.WidgetDelays()
	if mount != 100*time.Millisecond || grace != 200*time.Millisecond || restore != 500*time.Millisecond || expand != 200*time.Millisecond {
		t.Errorf("unexpected widget delays %v %v %v %v", mount, grace, restore, expand)
	}
	if cfg.HazardCacheTTL() != 5*time.Minute {
		t.Errorf("expected 5m hazard cache, got %v", cfg.HazardCacheTTL())
	}

	// Env values are not written back to the file.
	v, err := GetValue(path, "llm.api_key")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty api key on disk, got %v", v)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"log_level":"debug","hazards":{"radius_km":10}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" || cfg.Hazards.RadiusKm != 10 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Hazards.CacheTTLSeconds != 300 || cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("defaults lost: ttl=%d model=%q", cfg.Hazards.CacheTTLSeconds, cfg.LLM.Model)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestListValues(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-secret-key-1234"

	plain, err := ListValues(cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	if plain["llm.api_key"] != "sk-secret-key-1234" {
		t.Errorf("expected raw key, got %v", plain["llm.api_key"])
	}
	if plain["hazards.radius_km"] != 50.0 {
		t.Errorf("expected hazards.radius_km=50, got %v", plain["hazards.radius_km"])
	}

	masked, err := ListValues(cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	if masked["llm.api_key"] != "***1234" {
		t.Errorf("expected masked key, got %v", masked["llm.api_key"])
	}
}

func TestGetValue(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	v, err := GetValue(path, "widget.restore_delay_ms")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	if v != 500.0 {
		t.Errorf("expected 500, got %v", v)
	}

	if _, err := GetValue(path, "nonexistent.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSetValueTyped(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}

	sets := []struct {
		key, value string
		want       any
	}{
		{"log_level", "debug", "debug"},
		{"max_concurrent", "8", 8.0},
		{"http.enabled", "false", false},
		{"hazards.radius_km", "12.5", 12.5},
		{"telegram.token", "123456", "123456"},
	}
	for _, s := range sets {
		if err := SetValue(path, s.key, s.value); err != nil {
			t.Fatalf("SetValue(%s) failed: %v", s.key, err)
		}
		got, err := GetValue(path, s.key)
		if err != nil {
			t.Fatal(err)
		}
		if got != s.want {
			t.Errorf("%s: expected %v (%T), got %v (%T)", s.key, s.want, s.want, got, got)
		}
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConcurrent != 8 || cfg.HTTP.Enabled || cfg.Hazards.RadiusKm != 12.5 {
		t.Errorf("values not applied on load: %+v", cfg)
	}
}

func TestSetValueRejects(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}

	if err := SetValue(path, "custom.setting", "value"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := SetValue(path, "max_tool_rounds", "many"); err == nil {
		t.Error("expected error for non-numeric value")
	}
	if err := SetValue(path, "http.enabled", "maybe"); err == nil {
		t.Error("expected error for non-boolean value")
	}

	missing := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(missing, "log_level", "debug"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}
