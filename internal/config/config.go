package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	APIToken            string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	LogLevel            string
	LogFormat           string

	// SyncInterval is the pause between two full synchronization passes.
	SyncInterval              time.Duration
	SyncMaxConcurrentAccounts int
	// IMAPInsecure disables TLS for IMAP and SMTP. Only for local test servers.
	IMAPInsecure bool
	SMTPSendRPS  float64

	BlobBackend       string
	BlobFSRoot        string
	BlobPublicBaseURL string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool
}

func NewConfig() (*Config, error) {
	env := os.Getenv("WERKBANK_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	syncInterval, err := time.ParseDuration(getEnvOrDefault("SYNC_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("SYNC_INTERVAL is not a valid duration: %w", err)
	}
	maxAccounts, err := strconv.Atoi(getEnvOrDefault("SYNC_MAX_CONCURRENT_ACCOUNTS", "4"))
	if err != nil {
		return nil, fmt.Errorf("SYNC_MAX_CONCURRENT_ACCOUNTS is not a number: %w", err)
	}
	sendRPS, err := strconv.ParseFloat(getEnvOrDefault("SMTP_SEND_RPS", "1"), 64)
	if err != nil {
		return nil, fmt.Errorf("SMTP_SEND_RPS is not a number: %w", err)
	}

	config := &Config{
		Environment:               env,
		EncryptionKeyBase64:       os.Getenv("WERKBANK_ENCRYPTION_KEY_BASE64"),
		APIToken:                  os.Getenv("WERKBANK_API_TOKEN"),
		DBHost:                    getEnvOrDefault("WERKBANK_DB_HOST", "localhost"),
		DBPort:                    getEnvOrDefault("WERKBANK_DB_PORT", "5432"),
		DBUsername:                getEnvOrDefault("WERKBANK_DB_USER", "werkbank"),
		DBPassword:                os.Getenv("WERKBANK_DB_PASSWORD"),
		DBName:                    getEnvOrDefault("WERKBANK_DB_NAME", "werkbank"),
		DBSSLMode:                 getEnvOrDefault("WERKBANK_DB_SSLMODE", "disable"),
		Port:                      getEnvOrDefault("PORT", "8080"),
		LogLevel:                  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:                 getEnvOrDefault("LOG_FORMAT", "text"),
		SyncInterval:              syncInterval,
		SyncMaxConcurrentAccounts: maxAccounts,
		IMAPInsecure:              os.Getenv("IMAP_INSECURE") == "true",
		SMTPSendRPS:               sendRPS,
		BlobBackend:               getEnvOrDefault("BLOB_BACKEND", "filesystem"),
		BlobFSRoot:                getEnvOrDefault("BLOB_FS_ROOT", "./data/blobs"),
		BlobPublicBaseURL:         os.Getenv("BLOB_PUBLIC_BASE_URL"),
		S3Bucket:                  os.Getenv("S3_BUCKET"),
		S3Region:                  os.Getenv("S3_REGION"),
		S3Endpoint:                os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:             os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:         os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3ForcePathStyle:          os.Getenv("S3_FORCE_PATH_STYLE") == "true",
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("WERKBANK_ENCRYPTION_KEY_BASE64 is required")
	}

	key, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("WERKBANK_ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("WERKBANK_ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d", len(key))
	}

	if c.APIToken == "" {
		return fmt.Errorf("WERKBANK_API_TOKEN is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("WERKBANK_DB_PASSWORD is required")
	}

	if c.BlobBackend == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when BLOB_BACKEND is s3")
	}

	return nil
}

// GetDatabaseURL returns the connection string with the credentials escaped.
func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
