package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/a-essam23/go-chat/pkg/chat"
)

// Load reads configuration from defaults, a YAML file and GOCHAT_* environment variables,
// in increasing order of precedence. A .env file in the working directory is loaded first.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", slog.Any("error", err))
	}

	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("server.auth.cookieName", "accessToken")
	v.SetDefault("server.connectionLimit.maxConnections", 0)
	v.SetDefault("server.connectionLimit.mode", "cycle")
	v.SetDefault("server.eventRate.perSecond", 20)
	v.SetDefault("server.eventRate.burst", 40)
	v.SetDefault("transport.readTimeout", "0s")
	v.SetDefault("transport.pingInterval", "30s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.sqlitePath", "go-chat.db")
	v.SetDefault("storage.postgresURL", "")
	v.SetDefault("chat.editWindow", chat.DefaultEditWindow.String())
	v.SetDefault("chat.maxContentLength", chat.DefaultMaxContentLength)
	v.SetDefault("chat.tombstone", chat.DefaultTombstone)
	v.SetDefault("chat.fetchLimit", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// 3. Set up environment variable handling
	v.SetEnvPrefix("GOCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		logger.Warn("Config file not found. relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Server.ConnectionLimit.Mode {
	case "reject", "cycle":
	default:
		return fmt.Errorf("server.connectionLimit.mode must be reject or cycle, got %q", c.Server.ConnectionLimit.Mode)
	}
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return errors.New("storage.postgresURL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Server.Auth.JWTSecret == "" {
		return errors.New("server.auth.jwtSecret is required")
	}
	if c.Chat.EditWindow <= 0 || c.Chat.MaxContentLength <= 0 {
		return errors.New("chat.editWindow and chat.maxContentLength must be positive")
	}
	return nil
}
