package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Queue.Workers != 4 {
		t.Errorf("expected default workers 4, got %d", cfg.Queue.Workers)
	}
	if cfg.Database.Path == "" {
		t.Error("expected non-empty default database path")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Queue.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "inverted port range",
			mutate:  func(c *Config) { c.Docker.PortRangeStart = 5000; c.Docker.PortRangeEnd = 4000 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  host: "127.0.0.1"
  port: 9090
database:
  path: "` + filepath.Join(dir, "test.db") + `"
git:
  work_dir: "` + filepath.Join(dir, "repos") + `"
features:
  use_mock_provider: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Features.UseMockProvider {
		t.Error("expected use_mock_provider to be true")
	}
	if cfg.Features.DisableNotifications {
		t.Error("expected disable_notifications to default to false")
	}
	if cfg.Queue.Workers != 4 {
		t.Errorf("expected default workers 4, got %d", cfg.Queue.Workers)
	}
}
