package config

import "time"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	GitHub   GitHubConfig   `yaml:"github" mapstructure:"github"`
	Queue    QueueConfig    `yaml:"queue" mapstructure:"queue"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Docker   DockerConfig   `yaml:"docker" mapstructure:"docker"`
	Git      GitConfig      `yaml:"git" mapstructure:"git"`
	Features FeatureFlags   `yaml:"features" mapstructure:"features"`
}

// ServerConfig holds HTTP server settings. An empty APIToken leaves the
// management API unauthenticated.
type ServerConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	APIToken string `yaml:"api_token" mapstructure:"api_token"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// GitHubConfig holds inbound webhook settings
type GitHubConfig struct {
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
}

// QueueConfig holds job queue settings
type QueueConfig struct {
	Workers      int           `yaml:"workers" mapstructure:"workers"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	TickInterval time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`
}

// ProviderConfig holds hosted provider client settings
type ProviderConfig struct {
	APIBase string `yaml:"api_base" mapstructure:"api_base"`
}

// DockerConfig holds settings for the docker provider backend
type DockerConfig struct {
	PortRangeStart int `yaml:"port_range_start" mapstructure:"port_range_start"`
	PortRangeEnd   int `yaml:"port_range_end" mapstructure:"port_range_end"`
}

// GitConfig holds git client settings for the docker provider backend
type GitConfig struct {
	WorkDir  string `yaml:"work_dir" mapstructure:"work_dir"`
	Username string `yaml:"username" mapstructure:"username"`
	Token    string `yaml:"token" mapstructure:"token"`
}

// FeatureFlags toggles optional behavior. Passed explicitly to constructors
// so tests can inject a configuration without touching process state.
type FeatureFlags struct {
	DemoMode             bool `yaml:"demo_mode" mapstructure:"demo_mode"`
	UseMockProvider      bool `yaml:"use_mock_provider" mapstructure:"use_mock_provider"`
	DisableNotifications bool `yaml:"disable_notifications" mapstructure:"disable_notifications"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "./data/opshub.db",
		},
		Queue: QueueConfig{
			Workers:      4,
			PollInterval: 500 * time.Millisecond,
			TickInterval: time.Second,
		},
		Provider: ProviderConfig{
			APIBase: "https://api.vercel.com",
		},
		Docker: DockerConfig{
			PortRangeStart: 42000,
			PortRangeEnd:   42999,
		},
		Git: GitConfig{
			WorkDir: "./data/repos",
		},
	}
}
