package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Redis   RedisConfig   `mapstructure:"redis"`
	History HistoryConfig `mapstructure:"history"`
	Tree    TreeConfig    `mapstructure:"tree"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Port string    `mapstructure:"port"`
	TLS  TLSConfig `mapstructure:"tls"`
}

// TLSConfig holds TLS-specific configuration.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

// DBConfig holds database-specific configuration.
type DBConfig struct {
	Driver string `mapstructure:"driver"` // "mysql" or "sqlite"
	DSN    string `mapstructure:"dsn"`
}

// CacheConfig holds configuration for the binary page cache blob store.
type CacheConfig struct {
	FilePath string `mapstructure:"filePath"`
}

// RedisConfig holds configuration for the cross-node event bus.
// Leave URL empty to run with the in-process bus (single node).
type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// HistoryConfig holds version history retention configuration.
// MaxAge is an ISO-8601 duration (e.g. "P30D"); empty disables purging.
type HistoryConfig struct {
	PurgeSchedule string `mapstructure:"purgeSchedule"`
	MaxAge        string `mapstructure:"maxAge"`
}

// TreeConfig holds tree rebuild tuning. Chunk sizes are bounded by the
// per-query parameter ceiling of the storage backend.
type TreeConfig struct {
	ChunkSize       int `mapstructure:"chunkSize"`
	ChunkSizeSQLite int `mapstructure:"chunkSizeSqlite"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // e.g., "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // e.g., "json", "console"
}

// InsertChunkSize returns the tree bulk-insert chunk size for the
// configured database driver.
func (c *Config) InsertChunkSize() int {
	if c.DB.Driver == "sqlite" {
		return c.Tree.ChunkSizeSQLite
	}
	return c.Tree.ChunkSize
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("db.driver", "mysql")
	viper.SetDefault("db.dsn", "wiki:wiki@tcp(localhost:3306)/wiki?parseTime=true")
	viper.SetDefault("cache.filePath", "pagecache.db")
	viper.SetDefault("redis.prefix", "wiki:")
	viper.SetDefault("history.purgeSchedule", "@daily")
	viper.SetDefault("history.maxAge", "")
	viper.SetDefault("tree.chunkSize", 100)
	viper.SetDefault("tree.chunkSizeSqlite", 60)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")

	// Set up viper to read from config file
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/go-wiki-engine/")
	viper.AddConfigPath("$HOME/.go-wiki-engine")

	// Attempt to read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		// Config file not found; proceed with defaults and env vars
	}

	// Set up viper to read from environment variables
	viper.SetEnvPrefix("WIKI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Unmarshal the config into the Config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
