package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("defaults without file", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}

		if cfg.Server.Port != 8080 {
			t.Errorf("port = %v, want 8080", cfg.Server.Port)
		}
		if cfg.Server.RequestTimeout != 30*time.Second {
			t.Errorf("request_timeout = %v, want 30s", cfg.Server.RequestTimeout)
		}
		if cfg.AI.MaxFastLength != 280 {
			t.Errorf("max_fast_length = %v, want 280", cfg.AI.MaxFastLength)
		}
		if cfg.AI.DeepKeywords != "strategy|plan|sequence|long-form|campaign" {
			t.Errorf("deep_keywords = %q", cfg.AI.DeepKeywords)
		}
		if cfg.AI.Fast.BaseURL != "http://localhost:11434" {
			t.Errorf("fast base_url = %q", cfg.AI.Fast.BaseURL)
		}
		if cfg.Webhook.RetryDelay != 5*time.Minute {
			t.Errorf("retry_delay = %v, want 5m", cfg.Webhook.RetryDelay)
		}
		if cfg.Dashboard.RefreshInterval != 5*time.Minute {
			t.Errorf("refresh_interval = %v, want 5m", cfg.Dashboard.RefreshInterval)
		}
		if cfg.Dashboard.Retries != 3 {
			t.Errorf("retries = %v, want 3", cfg.Dashboard.Retries)
		}
	})

	t.Run("env var port override", func(t *testing.T) {
		t.Setenv("CRM_SERVER__PORT", "9000")
		t.Setenv("CRM_AI__FAST__MODEL", "phi3")

		cfg, err := LoadFile("")
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("port = %v, want 9000", cfg.Server.Port)
		}
		if cfg.AI.Fast.Model != "phi3" {
			t.Errorf("fast model = %q, want phi3", cfg.AI.Fast.Model)
		}
	})
}

func TestLoadFile_YAMLAndSubstitution(t *testing.T) {
	t.Setenv("TEST_STRIPE_KEY", "sk_test_123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 18081
ai:
  max_fast_length: 100
  deep:
    name: groq-deep
checkout:
  secret_key: ${TEST_STRIPE_KEY}
webhook:
  url: https://hooks.example.com/crm
  retry_delay: 2s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 18081 {
		t.Errorf("port = %v, want 18081", cfg.Server.Port)
	}
	if cfg.AI.MaxFastLength != 100 {
		t.Errorf("max_fast_length = %v, want 100", cfg.AI.MaxFastLength)
	}
	if cfg.AI.Deep.Name != "groq-deep" {
		t.Errorf("deep name = %q", cfg.AI.Deep.Name)
	}
	if cfg.AI.Deep.Model != "llama3.1:70b" {
		t.Errorf("deep model default lost, got %q", cfg.AI.Deep.Model)
	}
	if cfg.Checkout.SecretKey != "sk_test_123" {
		t.Errorf("secret_key = %q, want substituted value", cfg.Checkout.SecretKey)
	}
	if cfg.Webhook.RetryDelay != 2*time.Second {
		t.Errorf("retry_delay = %v, want 2s", cfg.Webhook.RetryDelay)
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		input string
		want  string
	}{
		{"${TEST_VAR}", "test-value"},
		{"prefix-${TEST_VAR}-suffix", "prefix-test-value-suffix"},
		{"no-vars", "no-vars"},
		{"${UNSET_VAR_FOR_TEST}", ""},
	}

	for _, tt := range tests {
		if got := substituteEnvVars(tt.input); got != tt.want {
			t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
