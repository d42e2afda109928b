package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_SESSION_STORE", "")
	t.Setenv("AUTH_DEFAULT_ROLES", "admin, ,user")

	cfg := Load()
	if cfg.Auth.SessionStore != StorePostgres {
		t.Fatalf("expected postgres store, got %q", cfg.Auth.SessionStore)
	}
	if cfg.Auth.SessionTTL != 24*time.Hour || cfg.Auth.TokenTTL != 72*time.Hour {
		t.Fatalf("unexpected ttls: session=%v token=%v", cfg.Auth.SessionTTL, cfg.Auth.TokenTTL)
	}
	if cfg.Auth.MaxSessions != 2 {
		t.Fatalf("expected cap 2, got %d", cfg.Auth.MaxSessions)
	}
	if got := strings.Join(cfg.Auth.DefaultRoles, "|"); got != "admin|user" {
		t.Fatalf("unexpected roles: %q", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.Auth.SessionStore = "mongo" },
			wantErr: "AUTH_SESSION_STORE",
		},
		{
			name:    "token shorter than session",
			mutate:  func(c *Config) { c.Auth.TokenTTL = time.Hour },
			wantErr: "AUTH_TOKEN_TTL",
		},
		{
			name: "production without key",
			mutate: func(c *Config) {
				c.Service.Env = "production"
				c.Auth.SigningKey = "short"
			},
			wantErr: "AUTH_SIGNING_KEY",
		},
		{
			name: "production with memory store",
			mutate: func(c *Config) {
				c.Service.Env = "production"
				c.Auth.SigningKey = strings.Repeat("k", MinSigningKeyLength)
				c.Auth.SessionStore = StoreMemory
			},
			wantErr: "memory session store",
		},
		{
			name:    "bad shutdown timeout",
			mutate:  func(c *Config) { c.Shutdown.Timeout = "soon" },
			wantErr: "SHUTDOWN_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
