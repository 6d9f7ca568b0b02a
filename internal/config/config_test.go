package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Transfer.Threads != 10 {
		t.Errorf("Expected Threads=10, got %d", cfg.Transfer.Threads)
	}
	if cfg.Transfer.Concurrent != 2 {
		t.Errorf("Expected Concurrent=2, got %d", cfg.Transfer.Concurrent)
	}
	if cfg.InitialDelay() != 200*time.Millisecond {
		t.Errorf("Expected InitialDelay=200ms, got %v", cfg.InitialDelay())
	}
	if cfg.Proxy.Mode != "no-proxy" {
		t.Errorf("Expected proxy mode no-proxy, got %s", cfg.Proxy.Mode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate, got %v", err)
	}
}

func TestConfigLoadSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "blobxfer.conf")

	cfg := New()
	cfg.Transfer.Threads = 16
	cfg.Transfer.Concurrent = 4
	cfg.Transfer.MaxBandwidthMbps = 250.5
	cfg.Transfer.Resume = false
	cfg.Retry.MaxRetries = 3
	cfg.Azure.SASEndpoint = "https://sas.example.com/token"
	cfg.S3.Region = "eu-west-1"
	cfg.S3.PathStyle = true
	cfg.Proxy.Mode = "basic"
	cfg.Proxy.Host = "proxy.corp"
	cfg.Proxy.Password = "secret"
	cfg.Log.Format = "json"

	if err := Save(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Error("Proxy password must not be written to disk")
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Transfer.Threads != 16 {
		t.Errorf("Threads mismatch: got %d", loaded.Transfer.Threads)
	}
	if loaded.Transfer.Concurrent != 4 {
		t.Errorf("Concurrent mismatch: got %d", loaded.Transfer.Concurrent)
	}
	if loaded.Transfer.MaxBandwidthMbps != 250.5 {
		t.Errorf("MaxBandwidthMbps mismatch: got %v", loaded.Transfer.MaxBandwidthMbps)
	}
	if loaded.Transfer.Resume {
		t.Error("Resume mismatch: expected false")
	}
	if loaded.Retry.MaxRetries != 3 {
		t.Errorf("MaxRetries mismatch: got %d", loaded.Retry.MaxRetries)
	}
	if loaded.Azure.SASEndpoint != cfg.Azure.SASEndpoint {
		t.Errorf("SASEndpoint mismatch: got %s", loaded.Azure.SASEndpoint)
	}
	if loaded.S3.Region != "eu-west-1" || !loaded.S3.PathStyle {
		t.Errorf("S3 mismatch: got %+v", loaded.S3)
	}
	if loaded.Proxy.Mode != "basic" || loaded.Proxy.Host != "proxy.corp" {
		t.Errorf("Proxy mismatch: got %+v", loaded.Proxy)
	}
	if loaded.Log.Format != "json" {
		t.Errorf("Log format mismatch: got %s", loaded.Log.Format)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("Load() of missing file failed: %v", err)
	}
	if cfg.Transfer.Threads != 10 {
		t.Errorf("Expected default threads, got %d", cfg.Transfer.Threads)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.conf")
	if err := os.WriteFile(path, []byte("[transfer\nthreads = "), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed INI")
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "blobxfer.conf")
	cfg := New()
	cfg.Transfer.Threads = 4
	if err := Save(cfg, configPath); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BLOBXFER_THREADS", "32")
	t.Setenv("BLOBXFER_AZURE_SAS_TOKEN", "sv=2020&sig=abc")
	t.Setenv("BLOBXFER_PROXY_PASSWORD", "pw")

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Transfer.Threads != 32 {
		t.Errorf("Expected env to set threads=32, got %d", loaded.Transfer.Threads)
	}
	if loaded.Transfer.Concurrent != 2 {
		t.Errorf("Unset env var changed concurrent: %d", loaded.Transfer.Concurrent)
	}
	if loaded.Azure.SASToken != "sv=2020&sig=abc" {
		t.Errorf("Expected SAS token from env, got %q", loaded.Azure.SASToken)
	}
	if loaded.Proxy.Password != "pw" {
		t.Errorf("Expected proxy password from env, got %q", loaded.Proxy.Password)
	}
}

func TestApplyEnvInvalidValue(t *testing.T) {
	t.Setenv("BLOBXFER_CONCURRENT", "many")
	if err := New().ApplyEnv(); err == nil {
		t.Error("Expected error for non-numeric BLOBXFER_CONCURRENT")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"zero threads", func(c *Config) { c.Transfer.Threads = 0 }, ErrInvalidThreads},
		{"too many threads", func(c *Config) { c.Transfer.Threads = 65 }, ErrInvalidThreads},
		{"zero concurrent", func(c *Config) { c.Transfer.Concurrent = 0 }, ErrInvalidConcurrent},
		{"negative bandwidth", func(c *Config) { c.Transfer.MaxBandwidthMbps = -1 }, ErrInvalidBandwidth},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, ErrInvalidRetries},
		{"inverted delays", func(c *Config) { c.Retry.InitialDelayMs = 20000 }, ErrInvalidDelay},
		{"bad proxy mode", func(c *Config) { c.Proxy.Mode = "socks" }, ErrInvalidProxyMode},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, ErrInvalidLogFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			if err := cfg.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := New()
	cfg.Azure.SASToken = "sig=topsecret"
	out := cfg.String()
	if strings.Contains(out, "topsecret") {
		t.Error("String() leaked the SAS token")
	}
	if !strings.Contains(out, "[transfer]") {
		t.Errorf("String() missing [transfer] section:\n%s", out)
	}
	if cfg.Azure.SASToken != "sig=topsecret" {
		t.Error("String() mutated the config")
	}
}

func TestBandwidthBytesPerSecond(t *testing.T) {
	cfg := New()
	cfg.Transfer.MaxBandwidthMbps = 8
	if got := cfg.BandwidthBytesPerSecond(); got != 1_000_000 {
		t.Errorf("Expected 1e6 bytes/s, got %v", got)
	}
}
