package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every application configuration section.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	MySQL         MySQLConfig         `mapstructure:"mysql"`
	Redis         RedisConfig         `mapstructure:"redis"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	AliyunOSS     AliyunOSSConfig     `mapstructure:"aliyun_oss"`
	RabbitMQ      RabbitMQConfig      `mapstructure:"rabbitmq"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Upload        UploadConfig        `mapstructure:"upload"`
	Log           LogConfig           `mapstructure:"log"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

// ServerConfig HTTP server settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// MySQLConfig database settings.
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig cache settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MinIOConfig remote object store settings (MinIO backend).
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// AliyunOSSConfig remote object store settings (Aliyun OSS backend).
type AliyunOSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"` // e.g. oss-cn-hangzhou.aliyuncs.com
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// RabbitMQConfig task queue settings.
type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

// JWTConfig bearer token settings.
type JWTConfig struct {
	SecretKey string        `mapstructure:"secret_key"`
	ExpiresIn time.Duration `mapstructure:"expires_in"`
	Issuer    string        `mapstructure:"issuer"`
}

// StorageConfig blob storage layout.
type StorageConfig struct {
	LocalBasePath string `mapstructure:"local_base_path"` // root of the local disk store
	RemoteType    string `mapstructure:"remote_type"`     // "minio" or "aliyun_oss"
}

// UploadConfig tunables of the resumable upload pipeline.
type UploadConfig struct {
	ChunkSize             int64         `mapstructure:"chunk_size"`               // bytes per chunk, fixed at session creation
	MaxUploadSize         int64         `mapstructure:"max_upload_size"`          // reject initiations above this
	SessionExpiry         time.Duration `mapstructure:"session_expiry"`           // deadline for finishing an upload
	MaxActiveSessions     int           `mapstructure:"max_active_sessions"`      // per-user cap on non-terminal sessions
	RelayEnabled          bool          `mapstructure:"relay_enabled"`            // relay placed files to the remote store
	DeleteLocalAfterRelay bool          `mapstructure:"delete_local_after_relay"` // drop local bytes once the remote copy is verified
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`           // expiry sweeper period
	SessionRetention      time.Duration `mapstructure:"session_retention"`        // keep terminal session records this long
	BlockedExtensions     []string      `mapstructure:"blocked_extensions"`       // lowercase, without the dot
}

// LogConfig zap logger settings.
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
	Level      string `mapstructure:"level"`
}

// ElasticsearchConfig connection settings for the optional processing-log index.
type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

var AppConfig *Config // global application configuration

// LoadConfig reads config.yaml (with env overrides) into AppConfig.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/go-cloudvault/")

	// Env vars override file values, e.g. GO_CLOUDVAULT_SERVER_PORT for server.port.
	viper.SetEnvPrefix("GO_CLOUDVAULT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Not fatal: env vars and defaults can still carry the config.
			log.Println("Warning: config file not found, using environment variables and default values.")
		} else {
			log.Printf("Fatal error reading config file: %s\n", err)
			return nil, err
		}
	}

	AppConfig = &Config{}
	if err := viper.Unmarshal(AppConfig); err != nil {
		log.Printf("Fatal error unmarshaling config: %s\n", err)
		return nil, err
	}

	log.Println("Configuration loaded successfully with Viper.")
	return AppConfig, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("storage.local_base_path", "./uploads/data")
	viper.SetDefault("storage.remote_type", "minio")
	viper.SetDefault("upload.chunk_size", 5*1024*1024)
	viper.SetDefault("upload.max_upload_size", 10*1024*1024*1024)
	viper.SetDefault("upload.session_expiry", 24*time.Hour)
	viper.SetDefault("upload.max_active_sessions", 5)
	viper.SetDefault("upload.relay_enabled", false)
	viper.SetDefault("upload.delete_local_after_relay", true)
	viper.SetDefault("upload.sweep_interval", time.Hour)
	viper.SetDefault("upload.session_retention", 7*24*time.Hour)
	viper.SetDefault("log.output_path", "logs/app.log")
	viper.SetDefault("log.error_path", "logs/error.log")
	viper.SetDefault("log.level", "info")
}
