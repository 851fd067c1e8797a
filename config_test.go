package llmprovider

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func embeddedRegistry(t *testing.T) *ConfigRegistry {
	t.Helper()
	r := NewConfigRegistry()
	if err := r.loadYAML(providersYAML); err != nil {
		t.Fatalf("embedded config: %v", err)
	}
	return r
}

func TestEmbeddedConfig(t *testing.T) {
	for _, id := range []ProviderID{ProviderAnthropic, ProviderOpenAI, ProviderOpenRouter, ProviderGoogle, ProviderLorem} {
		cfg := GetProviderConfig(id)
		if len(cfg.ModelPrefixes) == 0 || cfg.MaxTokens == 0 {
			t.Errorf("%s: incomplete config %+v", id, cfg)
		}
	}

	anthropic := GetProviderConfig(ProviderAnthropic)
	if anthropic.AnthropicVersion != "2023-06-01" || anthropic.Timeout != 60*time.Second {
		t.Errorf("anthropic config = %+v", anthropic)
	}
	if got := GetProviderConfig("nope"); got.BaseURL != "" {
		t.Errorf("unknown provider config = %+v", got)
	}
}

func TestConfigRegistry_LoadYAMLOverride(t *testing.T) {
	r := embeddedRegistry(t)
	path := writeConfig(t, "providers.yaml", `
providers:
  anthropic:
    base_url: http://localhost:8080
    retry:
      max_retries: 2
      initial_interval: 250ms
  custom:
    base_url: http://custom
    model_prefixes: [custom-]
`)
	if err := r.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	cfg, ok := r.Get(ProviderAnthropic)
	if !ok {
		t.Fatal("anthropic config missing")
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("base_url = %q", cfg.BaseURL)
	}
	// Fields the override leaves out keep the embedded values.
	if cfg.APIKeyEnv != "ANTHROPIC_API_KEY" || cfg.MaxTokens != 4096 {
		t.Errorf("merged config lost defaults: %+v", cfg)
	}
	if cfg.Retry.MaxRetries != 2 || cfg.Retry.InitialInterval != 250*time.Millisecond {
		t.Errorf("retry = %+v", cfg.Retry)
	}

	if id, ok := r.ProviderFor("custom-1"); ok {
		t.Errorf("custom providers are not consulted by ProviderFor, got %s", id)
	}
	if _, ok := r.Get("custom"); !ok {
		t.Error("custom provider not registered")
	}
}

func TestConfigRegistry_LoadTOML(t *testing.T) {
	r := embeddedRegistry(t)
	path := writeConfig(t, "providers.toml", `
[providers.google]
base_url = "http://gemini.local"
max_tokens = 1024
timeout = "5s"
model_prefixes = ["gemini-", "gemma-"]
`)
	if err := r.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	cfg, _ := r.Get(ProviderGoogle)
	if cfg.BaseURL != "http://gemini.local" || cfg.MaxTokens != 1024 || cfg.Timeout != 5*time.Second {
		t.Errorf("google config = %+v", cfg)
	}
	if !cfg.SupportsModel("gemma-3") || cfg.APIKeyEnv != "GEMINI_API_KEY" {
		t.Errorf("google config = %+v", cfg)
	}
}

func TestConfigRegistry_LoadErrors(t *testing.T) {
	r := NewConfigRegistry()
	if err := r.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if err := r.LoadFromFile(writeConfig(t, "providers.json", `{}`)); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if err := r.LoadFromFile(writeConfig(t, "bad.yaml", "providers: [")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestConfigRegistry_ProviderFor(t *testing.T) {
	r := embeddedRegistry(t)
	tests := map[string]ProviderID{
		"claude-haiku-4-5":            ProviderAnthropic,
		"gpt-4o-mini":                 ProviderOpenAI,
		"gemini-2.5-flash":            ProviderGoogle,
		"anthropic/claude-sonnet-4.5": ProviderOpenRouter,
		"lorem-fast":                  ProviderLorem,
	}
	for model, want := range tests {
		if got, ok := r.ProviderFor(model); !ok || got != want {
			t.Errorf("ProviderFor(%q) = %s, %v; want %s", model, got, ok, want)
		}
	}
	if _, ok := r.ProviderFor("llama-3"); ok {
		t.Error("unexpected match for llama-3")
	}
}

func TestProviderConfig_APIKey(t *testing.T) {
	t.Setenv("TEST_STREAM_KEY", "secret")
	cfg := ProviderConfig{APIKeyEnv: "TEST_STREAM_KEY"}
	if cfg.APIKey() != "secret" {
		t.Errorf("APIKey() = %q", cfg.APIKey())
	}
	if (ProviderConfig{}).APIKey() != "" {
		t.Error("empty env name should give empty key")
	}
}

func TestNewClientOptions(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "from-env")

	o := NewClientOptions(ProviderOpenRouter)
	if o.APIKey != "from-env" || o.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("options = %+v", o)
	}
	if o.Headers["X-Title"] == "" {
		t.Error("configured headers not applied")
	}
	if o.HTTPClient == nil || o.MaxTokens != 4096 {
		t.Errorf("defaults not applied: %+v", o)
	}

	o = NewClientOptions(ProviderOpenRouter,
		WithAPIKey("explicit"),
		WithBaseURL("http://local"),
		WithHeaders(map[string]string{"X-Extra": "1"}),
		WithRetryPolicy(RetryPolicy{MaxRetries: 4}),
	)
	if o.APIKey != "explicit" || o.BaseURL != "http://local" || o.Retry.MaxRetries != 4 {
		t.Errorf("options = %+v", o)
	}
	if o.Headers["X-Extra"] != "1" || o.Headers["X-Title"] == "" {
		t.Errorf("headers = %v", o.Headers)
	}
}
