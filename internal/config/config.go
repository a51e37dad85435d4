package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	PublicURL string `mapstructure:"public_url"` // Externally reachable base for webhook callbacks
}

// DatabaseConfig holds persistence settings
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or memory
	DSN    string `mapstructure:"dsn"`
}

// SchedulerConfig holds cron tick settings
type SchedulerConfig struct {
	TickCron        string `mapstructure:"tick_cron"`         // When the internal tick loop fires
	CronWindowSecs  int    `mapstructure:"cron_window_secs"`  // Due-window tolerance
	DisableTickLoop bool   `mapstructure:"disable_tick_loop"` // Rely on an external scheduler instead
}

// ProvidersConfig holds webhook provider credentials
type ProvidersConfig struct {
	GitHub      GitHubProviderConfig `mapstructure:"github"`
	GoogleDrive DriveProviderConfig  `mapstructure:"googledrive"`
}

// GitHubProviderConfig holds GitHub API settings
type GitHubProviderConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"` // Override for GitHub Enterprise
}

// DriveProviderConfig holds Google Drive API settings
type DriveProviderConfig struct {
	AccessToken string `mapstructure:"access_token"`
}

// SourcesConfig holds reference source plugin settings
type SourcesConfig struct {
	HTTP HTTPSourceConfig `mapstructure:"http"`
}

// HTTPSourceConfig holds http-crawler settings
type HTTPSourceConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in current directory and configs folder
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		// Also check user's home directory
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".ingestion-agent"))
		}
	}

	// Environment variables
	v.SetEnvPrefix("INGESTOR")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	v.BindEnv("server.public_url", "INGESTOR_SERVER_PUBLIC_URL")
	v.BindEnv("database.driver", "INGESTOR_DATABASE_DRIVER")
	v.BindEnv("database.dsn", "INGESTOR_DATABASE_DSN")
	v.BindEnv("providers.github.token", "INGESTOR_PROVIDERS_GITHUB_TOKEN")
	v.BindEnv("providers.googledrive.access_token", "INGESTOR_PROVIDERS_GOOGLEDRIVE_ACCESS_TOKEN")
	v.BindEnv("logging.level", "INGESTOR_LOGGING_LEVEL")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_url", "http://localhost:8080")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/ingestor.db")

	// Scheduler defaults
	v.SetDefault("scheduler.tick_cron", "* * * * *") // Every minute
	v.SetDefault("scheduler.cron_window_secs", 65)
	v.SetDefault("scheduler.disable_tick_loop", false)

	// Source defaults
	v.SetDefault("sources.http.user_agent", "ingestion-agent/1.0")
	v.SetDefault("sources.http.timeout_seconds", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "memory" {
		return fmt.Errorf("database.driver must be sqlite or memory, got %q", c.Database.Driver)
	}
	return nil
}
