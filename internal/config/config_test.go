package config

import (
	"os"
	"testing"
	"time"

	"github.com/morezero/contracts-gateway/pkg/principal"
)

var allEnv = []string{
	"COMMS_URL", "SERVICE_NAME",
	"GATEWAY_SUBJECT_PREFIX", "GATEWAY_CALL_TIMEOUT", "GATEWAY_RETRY_MAX_ATTEMPTS",
	"GATEWAY_RETRY_INITIAL_INTERVAL", "GATEWAY_RETRY_MAX_INTERVAL", "GATEWAY_RETRY_UPDATES",
	"GATEWAY_QUERY_COALESCING", "GATEWAY_COMPRESSION_THRESHOLD", "GATEWAY_CALLER_PRINCIPAL",
	"GATEWAY_AUDIT_CALLS", "GATEWAY_CONTRACTS_FILE", "CONTRACTS_FROM_DB", "GATEWAY_REQUEST_TIMEOUT",
	"DATABASE_URL", "RUN_MIGRATIONS", "MIGRATION_PATH",
	"GATEWAY_HTTP_ADDR", "HTTP_PORT", "HEALTH_CHECK_TIMEOUT",
	"GATEWAY_TRACING", "GATEWAY_METRICS", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnv {
		if val, ok := os.LookupEnv(env); ok {
			os.Unsetenv(env)
			t.Cleanup(func() { os.Setenv(env, val) })
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.COMMSURL != "nats://127.0.0.1:4222" {
		t.Errorf("config:config_test - COMMSURL = %q", cfg.COMMSURL)
	}
	if cfg.COMMSName != "contracts-gateway" {
		t.Errorf("config:config_test - COMMSName = %q", cfg.COMMSName)
	}
	if cfg.SubjectPrefix != "svc" {
		t.Errorf("config:config_test - SubjectPrefix = %q, want svc", cfg.SubjectPrefix)
	}
	if cfg.CallTimeout != 10*time.Second {
		t.Errorf("config:config_test - CallTimeout = %v, want 10s", cfg.CallTimeout)
	}
	if cfg.RetryMaxAttempts != 1 || cfg.RetryUpdates {
		t.Errorf("config:config_test - expected no retries by default, got %d/%v", cfg.RetryMaxAttempts, cfg.RetryUpdates)
	}
	if !cfg.QueryCoalescing {
		t.Error("config:config_test - expected QueryCoalescing=true by default")
	}
	if cfg.CompressionThreshold != 4096 {
		t.Errorf("config:config_test - CompressionThreshold = %d, want 4096", cfg.CompressionThreshold)
	}
	if cfg.ContractsFromDB || cfg.RunMigrations {
		t.Error("config:config_test - expected database features off by default")
	}
	if cfg.MigrationPath != "migrations" {
		t.Errorf("config:config_test - MigrationPath = %q, want migrations", cfg.MigrationPath)
	}
	if cfg.HTTPPort != 8080 || cfg.ListenAddr() != ":8080" {
		t.Errorf("config:config_test - HTTPPort = %d, ListenAddr = %q", cfg.HTTPPort, cfg.ListenAddr())
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want info", cfg.LogLevel)
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - defaults should validate: %v", err)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	caller := principal.Anonymous.String()
	overrides := map[string]string{
		"COMMS_URL":                  "nats://custom:4222",
		"GATEWAY_SUBJECT_PREFIX":     "rpc",
		"GATEWAY_CALL_TIMEOUT":       "3s",
		"GATEWAY_RETRY_MAX_ATTEMPTS": "4",
		"GATEWAY_RETRY_UPDATES":      "true",
		"GATEWAY_CALLER_PRINCIPAL":   caller,
		"CONTRACTS_FROM_DB":          "true",
		"GATEWAY_HTTP_ADDR":          "127.0.0.1:9000",
		"LOG_LEVEL":                  "debug",
	}
	for key, val := range overrides {
		t.Setenv(key, val)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}
	if cfg.COMMSURL != "nats://custom:4222" || cfg.SubjectPrefix != "rpc" {
		t.Errorf("config:config_test - overrides not applied: %+v", cfg)
	}
	if cfg.CallTimeout != 3*time.Second {
		t.Errorf("config:config_test - CallTimeout = %v, want 3s", cfg.CallTimeout)
	}
	if !cfg.ContractsFromDB {
		t.Error("config:config_test - expected ContractsFromDB=true")
	}
	if cfg.ListenAddr() != "127.0.0.1:9000" {
		t.Errorf("config:config_test - ListenAddr = %q", cfg.ListenAddr())
	}
	p, err := cfg.Caller()
	if err != nil || !p.IsAnonymous() {
		t.Errorf("config:config_test - Caller = %v, %v", p, err)
	}

	policy := cfg.RetryPolicy()
	if policy.MaxAttempts != 4 || !policy.RetryUpdates {
		t.Errorf("config:config_test - RetryPolicy = %+v", policy)
	}
}

func TestRetryPolicy_SingleAttempt(t *testing.T) {
	cfg := &Config{RetryMaxAttempts: 1, RetryUpdates: true}
	if p := cfg.RetryPolicy(); p.MaxAttempts != 1 || p.RetryUpdates {
		t.Errorf("config:config_test - expected NoRetry, got %+v", p)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			COMMSURL:           "nats://127.0.0.1:4222",
			RetryMaxAttempts:   1,
			RequestTimeout:     time.Second,
			HealthCheckTimeout: time.Second,
			DatabaseURL:        "postgres://localhost/contracts",
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing comms url", func(c *Config) { c.COMMSURL = "" }},
		{"zero attempts", func(c *Config) { c.RetryMaxAttempts = 0 }},
		{"negative timeout", func(c *Config) { c.CallTimeout = -time.Second }},
		{"negative threshold", func(c *Config) { c.CompressionThreshold = -1 }},
		{"bad caller", func(c *Config) { c.CallerPrincipal = "not-a-principal" }},
		{"db contracts without url", func(c *Config) { c.ContractsFromDB = true; c.DatabaseURL = "" }},
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"zero health timeout", func(c *Config) { c.HealthCheckTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			if err := c.ValidateForServe(); err == nil {
				t.Errorf("config:config_test - expected ValidateForServe error")
			}
		})
	}

	c := base()
	if err := c.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - base config should validate: %v", err)
	}
	c.DatabaseURL = ""
	if err := c.ValidateForDB(); err == nil {
		t.Error("config:config_test - expected ValidateForDB error without DATABASE_URL")
	}
}
