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
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Clip     ClipConfig     `mapstructure:"clip"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Search   SearchConfig   `mapstructure:"search"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
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

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"` // sqlite file path
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// ClipConfig configures the CLIP model-serving sidecar and the inference
// worker pool that gates calls to it.
type ClipConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	Workers   int           `mapstructure:"workers"`
	BatchSize int           `mapstructure:"batch_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type SearchConfig struct {
	DefaultLimit    int           `mapstructure:"default_limit"`
	MaxLimit        int           `mapstructure:"max_limit"`
	IncludePartial  bool          `mapstructure:"include_partial"`
	ExtractTimeout  time.Duration `mapstructure:"extract_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	MetadataTimeout time.Duration `mapstructure:"metadata_timeout"`
}

type IngestConfig struct {
	Workers   int    `mapstructure:"workers"`
	BatchSize int    `mapstructure:"batch_size"`
	Dir       string `mapstructure:"dir"`
	Domain    string `mapstructure:"domain"`
}

// Load reads configuration from the given file (or ./configs/config.yaml),
// with environment variables overriding file values.
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

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "pixsearch")
	v.SetDefault("database.name", "pixsearch")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "./data/pixsearch.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "images")
	v.SetDefault("clip.base_url", "http://localhost:8090")
	v.SetDefault("clip.model", "clip-vit-base-patch32")
	v.SetDefault("clip.workers", 4)
	v.SetDefault("clip.batch_size", 32)
	v.SetDefault("clip.timeout", 30*time.Second)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "images")
	v.SetDefault("search.default_limit", 20)
	v.SetDefault("search.max_limit", 100)
	v.SetDefault("search.include_partial", false)
	v.SetDefault("search.extract_timeout", 10*time.Second)
	v.SetDefault("search.query_timeout", 5*time.Second)
	v.SetDefault("search.metadata_timeout", 5*time.Second)
	v.SetDefault("ingest.workers", 5)
	v.SetDefault("ingest.batch_size", 32)
	v.SetDefault("ingest.dir", "./data/images")
	v.SetDefault("ingest.domain", "local")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.host", "POSTGRES_HOST")
	v.BindEnv("database.port", "POSTGRES_PORT")
	v.BindEnv("database.user", "POSTGRES_USER")
	v.BindEnv("database.password", "POSTGRES_PASSWORD")
	v.BindEnv("database.name", "POSTGRES_DB")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("clip.base_url", "CLIP_BASE_URL")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
