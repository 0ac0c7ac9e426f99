package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Storage   StorageConfig
	Chat      ChatConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	EventRate       EventRateConfig       `mapstructure:"eventRate"`
}

type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwtSecret"`
	CookieName string `mapstructure:"cookieName"`
}

type ConnectionLimitConfig struct {
	MaxConnections int    `mapstructure:"maxConnections"` // zero means unlimited
	Mode           string `mapstructure:"mode"`           // "reject" or "cycle"
}

// EventRateConfig throttles inbound events per session. Zero PerSecond disables it.
type EventRateConfig struct {
	PerSecond float64 `mapstructure:"perSecond"`
	Burst     int     `mapstructure:"burst"`
}

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	PingInterval time.Duration `mapstructure:"pingInterval"`
	SendBuffer   int           `mapstructure:"sendBuffer"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // "memory", "sqlite" or "postgres"
	SQLitePath  string `mapstructure:"sqlitePath"`
	PostgresURL string `mapstructure:"postgresURL"`
}

type ChatConfig struct {
	EditWindow       time.Duration `mapstructure:"editWindow"`
	MaxContentLength int           `mapstructure:"maxContentLength"`
	Tombstone        string        `mapstructure:"tombstone"`
	FetchLimit       int           `mapstructure:"fetchLimit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
