package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	DatabaseURL     string

	WorkerCommand      []string
	WorkerDir          string
	WorkerTimeout      time.Duration
	ReportsDir         string
	OrphanMaxAge       time.Duration
	OrphanSweepEvery   time.Duration
	MaxUploadBytes     int64
	ExposeDiagnostics  bool
	TrackingRatePerMin int

	ReportArchive  string
	LocalStoreDir  string
	AWSRegion      string
	S3Bucket       string
	S3Prefix       string
	SSEKMSKeyID    string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIORegion    string
	MinIOUseSSL    bool

	ChatbotURL     string
	ChatbotModel   string
	ChatbotTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "5001"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000")),
		DatabaseURL:     dbURL,

		WorkerCommand:      strings.Fields(getEnv("WORKER_COMMAND", "python3 python-scripts/track_vitiligo.py")),
		WorkerDir:          getEnv("WORKER_DIR", ""),
		WorkerTimeout:      time.Duration(getEnvInt("WORKER_TIMEOUT_SECONDS", 120)) * time.Second,
		ReportsDir:         getEnv("REPORTS_DIR", "./python-scripts/generated_reports"),
		OrphanMaxAge:       time.Duration(getEnvInt("ORPHAN_MAX_AGE_MINUTES", 30)) * time.Minute,
		OrphanSweepEvery:   time.Duration(getEnvInt("ORPHAN_SWEEP_INTERVAL_SECONDS", 300)) * time.Second,
		MaxUploadBytes:     int64(getEnvInt("TRACKING_MAX_UPLOAD_MB", 25)) << 20,
		ExposeDiagnostics:  getEnvBool("TRACKING_EXPOSE_DIAGNOSTICS", false),
		TrackingRatePerMin: getEnvInt("RATE_LIMIT_TRACKING_PER_MIN", 6),

		ReportArchive:  normalizeArchive(getEnv("REPORT_ARCHIVE", "none")),
		LocalStoreDir:  getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:      getEnv("AWS_REGION", ""),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Prefix:       getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:    getEnv("SSE_KMS_KEY_ID", ""),
		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:    getEnv("MINIO_BUCKET", "reports"),
		MinIORegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinIOUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		ChatbotURL:     getEnv("CHATBOT_URL", "http://localhost:11434/api/generate"),
		ChatbotModel:   getEnv("CHATBOT_MODEL", "llama3:8b"),
		ChatbotTimeout: time.Duration(getEnvInt("CHATBOT_TIMEOUT_SECONDS", 120)) * time.Second,
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		log.Printf("config: %s invalid int %q, using %d", key, raw, def)
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeArchive(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "local":
		return "local"
	case "s3":
		return "s3"
	case "minio":
		return "minio"
	default:
		return "none"
	}
}
