package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverAzure = "azure"
	DriverS3    = "s3"
	DriverLocal = "local"
)

// Config holds runtime configuration for the upload server.
type Config struct {
	ListenAddr         string
	StorageDriver      string
	DatabaseURL        string
	AdminToken         string
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	LogLevel           string
	LogFormat          string

	// Azure engine. Credentials left empty here are still picked up by the
	// engine from the AZURE_STORAGE_* variables.
	AzureContainer        string
	AzureAuthType         string
	AzureEndpoint         string
	AzureAccessLevel      string
	AzureConnectionString string
	AzureAccountName      string
	AzureAccessKey        string
	AzureSASToken         string
	AzureBlockSize        int64
	AzureConcurrency      int

	// Upload host
	UploadMetadata        map[string]string
	UploadContainerHeader string
	MaxUploadBytes        int64
	MaxUploadFiles        int
	UploadFields          []string
	UploadMemoryBytes     int64
	UploadParallelism     int

	// S3 driver
	S3BucketPrefix    string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	// Local driver
	StorageRoot    string
	StorageBaseURL string
}

// LedgerEnabled reports whether uploads are recorded in PostgreSQL.
func (c Config) LedgerEnabled() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

func Load() (Config, error) {
	defaultCORSOrigins := []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	cfg := Config{
		ListenAddr:       getenv("LISTEN_ADDR", ":8080"),
		StorageDriver:    strings.ToLower(getenv("STORAGE_DRIVER", DriverAzure)),
		DatabaseURL:      getenv("DATABASE_URL", ""),
		AdminToken:       getenv("ADMIN_TOKEN", "dev-admin-token"),
		HTTPReadTimeout:  getenvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPWriteTimeout: getenvDuration("HTTP_WRITE_TIMEOUT", 120*time.Second),
		HTTPIdleTimeout:  getenvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogFormat:        getenv("LOG_FORMAT", "json"),

		AzureContainer:        getenv("AZURE_STORAGE_CONTAINER", "uploads"),
		AzureAuthType:         getenv("AZURE_STORAGE_AUTH_TYPE", ""),
		AzureEndpoint:         getenv("AZURE_STORAGE_ENDPOINT", ""),
		AzureAccessLevel:      strings.ToLower(getenv("AZURE_STORAGE_ACCESS_LEVEL", "private")),
		AzureConnectionString: getenv("AZURE_STORAGE_CONNECTION_STRING", ""),
		AzureAccountName:      getenv("AZURE_STORAGE_ACCOUNT", ""),
		AzureAccessKey:        getenv("AZURE_STORAGE_ACCESS_KEY", ""),
		AzureSASToken:         getenv("AZURE_STORAGE_SAS_TOKEN", ""),
		AzureBlockSize:        getenvInt64("AZURE_STORAGE_BLOCK_SIZE", 4<<20),
		AzureConcurrency:      getenvInt("AZURE_STORAGE_CONCURRENCY", 5),

		UploadMetadata:        parsePairs(getenv("UPLOAD_METADATA", "")),
		UploadContainerHeader: getenv("UPLOAD_CONTAINER_HEADER", ""),
		MaxUploadBytes:        getenvInt64("MAX_UPLOAD_BYTES", 128*1024*1024),
		MaxUploadFiles:        getenvInt("MAX_UPLOAD_FILES", 10),
		UploadFields:          parseList(getenv("UPLOAD_FIELDS", "")),
		UploadMemoryBytes:     getenvInt64("UPLOAD_MEMORY_BYTES", 32<<20),
		UploadParallelism:     getenvInt("UPLOAD_PARALLELISM", 4),

		S3BucketPrefix:    getenv("S3_BUCKET_PREFIX", ""),
		S3Endpoint:        getenv("S3_ENDPOINT", ""),
		S3Region:          getenv("S3_REGION", "us-east-1"),
		S3AccessKeyID:     getenv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getenv("S3_SECRET_ACCESS_KEY", ""),
		S3UsePathStyle:    getenvBool("S3_USE_PATH_STYLE", false),

		StorageRoot:    getenv("STORAGE_ROOT", "./data"),
		StorageBaseURL: getenv("STORAGE_BASE_URL", ""),
	}
	cfg.CORSAllowedOrigins = parseList(getenv("CORS_ALLOWED_ORIGINS", strings.Join(defaultCORSOrigins, ",")))
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = defaultCORSOrigins
	}

	switch cfg.StorageDriver {
	case DriverAzure, DriverS3:
	case DriverLocal:
		if strings.TrimSpace(cfg.StorageRoot) == "" {
			return Config{}, fmt.Errorf("STORAGE_ROOT cannot be empty")
		}
	default:
		return Config{}, fmt.Errorf("STORAGE_DRIVER %q is not one of azure, s3, local", cfg.StorageDriver)
	}
	if strings.TrimSpace(cfg.AdminToken) == "" {
		return Config{}, fmt.Errorf("ADMIN_TOKEN cannot be empty")
	}
	if cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.MaxUploadFiles <= 0 {
		cfg.MaxUploadFiles = 10
	}
	if cfg.UploadParallelism <= 0 {
		cfg.UploadParallelism = 1
	}
	if cfg.AzureConcurrency <= 0 {
		cfg.AzureConcurrency = 5
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// parsePairs reads "k=v" entries separated like parseList. Entries without a
// key are dropped; later keys win.
func parsePairs(raw string) map[string]string {
	entries := parseList(raw)
	if len(entries) == 0 {
		return nil
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, _ := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseList(raw string) []string {
	replacer := strings.NewReplacer("\n", ",", ";", ",")
	normalized := replacer.Replace(raw)
	parts := strings.Split(normalized, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return dedupeNonEmpty(out)
}

func dedupeNonEmpty(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(c))
	}
	return out
}
