package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Detect   DetectConfig   `mapstructure:"detect"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

type UploadConfig struct {
	MaxUploadMB int `mapstructure:"max_upload_mb"`
	ChunkSizeMB int `mapstructure:"chunk_size_mb"`
	MaxParts    int `mapstructure:"max_parts"`
}

type IngestConfig struct {
	DefaultChunkRows     int           `mapstructure:"default_chunk_rows"`
	MaxChunkRows         int           `mapstructure:"max_chunk_rows"`
	BatchSize            int           `mapstructure:"batch_size"`
	AutoPump             bool          `mapstructure:"auto_pump"`
	PumpInterval         time.Duration `mapstructure:"pump_interval"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
}

type DetectConfig struct {
	MaxDisplayColumns int `mapstructure:"max_display_columns"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment knobs under their conventional names
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.local_dir", "DATA_DIR")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	v.BindEnv("upload.max_upload_mb", "MAX_UPLOAD_MB")
	v.BindEnv("upload.chunk_size_mb", "CHUNK_SIZE_MB")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Storage.ResolveEnvVars()
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/app.sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "assetingest")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_dir", "./data")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "datasets")

	v.SetDefault("upload.max_upload_mb", 500)
	v.SetDefault("upload.chunk_size_mb", 8)
	v.SetDefault("upload.max_parts", 10000)

	v.SetDefault("ingest.default_chunk_rows", 5000)
	v.SetDefault("ingest.max_chunk_rows", 50000)
	v.SetDefault("ingest.batch_size", 2000)
	v.SetDefault("ingest.auto_pump", false)
	v.SetDefault("ingest.pump_interval", 1500*time.Millisecond)
	v.SetDefault("ingest.max_consecutive_errors", 20)

	v.SetDefault("detect.max_display_columns", 200)
}
