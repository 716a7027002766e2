package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Autosave  AutosaveConfig
	Documents DocumentsConfig
	Keycloak  KeycloakConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
}

type KeycloakConfig struct {
	URL      string
	Realm    string
	ClientID string
}

// BucketConfig is a fixed-window admission limit for one route class.
type BucketConfig struct {
	Limit  int
	Window time.Duration
}

type RateLimitConfig struct {
	Enabled   bool
	UseRedis  bool
	FailOpen  bool
	Read      BucketConfig
	Write     BucketConfig
	Expensive BucketConfig
}

type CacheConfig struct {
	Enabled  bool
	FailOpen bool
	TTL      time.Duration
}

type AutosaveConfig struct {
	Debounce time.Duration
	Coalesce time.Duration
}

type DocumentsConfig struct {
	// SnapshotMetadataWrites controls whether a metadata-only write stores a
	// full content copy in its revision row or a thin row flagged unchanged.
	SnapshotMetadataWrites bool
	// Revision payloads larger than BlobThreshold bytes are offloaded to the
	// object store when one is configured. 0 disables offload.
	BlobThreshold int
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5020")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_FAIL_OPEN", true)
	viper.SetDefault("RATE_LIMIT_READ_PER_MIN", 100)
	viper.SetDefault("RATE_LIMIT_WRITE_PER_MIN", 30)
	viper.SetDefault("RATE_LIMIT_EXPENSIVE_PER_MIN", 10)
	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_FAIL_OPEN", true)
	viper.SetDefault("CACHE_TTL_SECONDS", 300)
	viper.SetDefault("AUTOSAVE_DEBOUNCE_SECONDS", 30)
	viper.SetDefault("AUTOSAVE_COALESCE_MILLIS", 750)
	viper.SetDefault("SNAPSHOT_METADATA_WRITES", false)
	viper.SetDefault("REVISION_BLOB_THRESHOLD", 0)

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		JWT: JWTConfig{
			Secret:         os.Getenv("JWT_SECRET"),
			AccessTokenTTL: time.Duration(viper.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
		},
		Keycloak: KeycloakConfig{
			URL:      viper.GetString("KEYCLOAK_URL"),
			Realm:    viper.GetString("KEYCLOAK_REALM"),
			ClientID: viper.GetString("KEYCLOAK_CLIENT_ID"),
		},
		RateLimit: RateLimitConfig{
			Enabled:   viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:  viper.GetBool("RATE_LIMIT_USE_REDIS"),
			FailOpen:  viper.GetBool("RATE_LIMIT_FAIL_OPEN"),
			Read:      BucketConfig{Limit: viper.GetInt("RATE_LIMIT_READ_PER_MIN"), Window: time.Minute},
			Write:     BucketConfig{Limit: viper.GetInt("RATE_LIMIT_WRITE_PER_MIN"), Window: time.Minute},
			Expensive: BucketConfig{Limit: viper.GetInt("RATE_LIMIT_EXPENSIVE_PER_MIN"), Window: time.Minute},
		},
		Cache: CacheConfig{
			Enabled:  viper.GetBool("CACHE_ENABLED"),
			FailOpen: viper.GetBool("CACHE_FAIL_OPEN"),
			TTL:      time.Duration(viper.GetInt("CACHE_TTL_SECONDS")) * time.Second,
		},
		Autosave: AutosaveConfig{
			Debounce: time.Duration(viper.GetInt("AUTOSAVE_DEBOUNCE_SECONDS")) * time.Second,
			Coalesce: time.Duration(viper.GetInt("AUTOSAVE_COALESCE_MILLIS")) * time.Millisecond,
		},
		Documents: DocumentsConfig{
			SnapshotMetadataWrites: viper.GetBool("SNAPSHOT_METADATA_WRITES"),
			BlobThreshold:          viper.GetInt("REVISION_BLOB_THRESHOLD"),
		},
	}

	// Basic validation
	if cfg.JWT.Secret == "" && cfg.Keycloak.URL == "" {
		log.Println("WARNING: neither JWT_SECRET nor KEYCLOAK_URL is set; set one in production")
	}

	return cfg, nil
}
