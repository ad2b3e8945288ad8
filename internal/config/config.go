package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults from the Default() config
	defaults := Default()
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.api_token", "")
	v.SetDefault("database.path", defaults.Database.Path)
	v.SetDefault("github.webhook_secret", "")
	v.SetDefault("queue.workers", defaults.Queue.Workers)
	v.SetDefault("queue.poll_interval", defaults.Queue.PollInterval)
	v.SetDefault("queue.tick_interval", defaults.Queue.TickInterval)
	v.SetDefault("provider.api_base", defaults.Provider.APIBase)
	v.SetDefault("docker.port_range_start", defaults.Docker.PortRangeStart)
	v.SetDefault("docker.port_range_end", defaults.Docker.PortRangeEnd)
	v.SetDefault("git.work_dir", defaults.Git.WorkDir)
	v.SetDefault("git.username", "")
	v.SetDefault("git.token", "")
	v.SetDefault("features.demo_mode", false)
	v.SetDefault("features.use_mock_provider", false)
	v.SetDefault("features.disable_notifications", false)

	// Environment variables override file config
	v.SetEnvPrefix("OPSHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if it exists
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/opshub")
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env vars and defaults may be enough
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.ensureDirs(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue workers must be at least 1, got %d", c.Queue.Workers)
	}

	if c.Docker.PortRangeStart > c.Docker.PortRangeEnd {
		return fmt.Errorf("docker port range start %d exceeds end %d", c.Docker.PortRangeStart, c.Docker.PortRangeEnd)
	}

	return nil
}

// ensureDirs creates required directories
func (c *Config) ensureDirs() error {
	dirs := []string{
		filepath.Dir(c.Database.Path),
		c.Git.WorkDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Addr returns the server address string
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
