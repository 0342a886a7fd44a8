// Package config loads process configuration from config.toml and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration. Missing credentials or base URLs
// abort startup; everything else has a default.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Server struct {
		Port            string `mapstructure:"port"`
		CallbackBaseURL string `mapstructure:"callback_base_url"`
		AdminUser       string `mapstructure:"admin_user"`
		AdminPassword   string `mapstructure:"admin_password"`
	} `mapstructure:"server"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Trello struct {
		APIKey      string `mapstructure:"api_key"`
		Token       string `mapstructure:"token"`
		MainBoardID string `mapstructure:"main_board_id"`
		TopBoardID  string `mapstructure:"top_board_id"`
	} `mapstructure:"trello"`

	GitLab struct {
		BaseURL string `mapstructure:"base_url"`
		Token   string `mapstructure:"token"`
	} `mapstructure:"gitlab"`

	Temporal struct {
		Address     string        `mapstructure:"address"`
		Namespace   string        `mapstructure:"namespace"`
		TaskTimeout time.Duration `mapstructure:"task_timeout"`
		MaxAttempts int           `mapstructure:"max_attempts"`
	} `mapstructure:"temporal"`
}

// Load reads config.toml from the working directory, applying environment
// overrides of the form BOARDSYNC_SECTION_KEY.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("boardsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.path", "boardsync.db")
	// required keys default to empty so environment overrides bind
	v.SetDefault("server.callback_base_url", "")
	v.SetDefault("server.admin_user", "")
	v.SetDefault("server.admin_password", "")
	v.SetDefault("trello.api_key", "")
	v.SetDefault("trello.token", "")
	v.SetDefault("trello.main_board_id", "")
	v.SetDefault("trello.top_board_id", "")
	v.SetDefault("gitlab.base_url", "")
	v.SetDefault("gitlab.token", "")
	v.SetDefault("temporal.address", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_timeout", 2*time.Minute)
	v.SetDefault("temporal.max_attempts", 3)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	missing := []string{}
	if c.Server.CallbackBaseURL == "" {
		missing = append(missing, "server.callback_base_url")
	}
	if c.Trello.APIKey == "" {
		missing = append(missing, "trello.api_key")
	}
	if c.Trello.Token == "" {
		missing = append(missing, "trello.token")
	}
	if c.Trello.MainBoardID == "" {
		missing = append(missing, "trello.main_board_id")
	}
	if c.Trello.TopBoardID == "" {
		missing = append(missing, "trello.top_board_id")
	}
	if c.GitLab.BaseURL == "" {
		missing = append(missing, "gitlab.base_url")
	}
	if c.GitLab.Token == "" {
		missing = append(missing, "gitlab.token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
