package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr           string
	JWTSecret      string
	JWTSecretParam string
	LogLevel       string

	DocStore    string
	SQLiteDSN   string
	PostgresDSN string
	DynamoTable string
	GCPProject  string

	BlobStore   string
	BlobDir     string
	BlobBaseURL string
	S3Bucket    string
	S3URLTTL    time.Duration

	MinimizeMinWidth int
	TypingIdle       time.Duration
	DraftPolicy      string
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func getint(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, ""))
	if err != nil {
		return def
	}
	return n
}

// MustLoad reads the environment. Call godotenv first to pick up a .env file.
func MustLoad() Config {
	cfg := Config{
		Addr:           getenv("HTTP_ADDR", ":8080"),
		JWTSecret:      getenv("JWT_SECRET", ""),
		JWTSecretParam: getenv("JWT_SECRET_PARAM", ""),
		LogLevel:       getenv("LOG_LEVEL", "info"),

		DocStore:    strings.ToLower(getenv("DOCSTORE_BACKEND", "memory")),
		SQLiteDSN:   getenv("SQLITE_DSN", "file:mmchat.db?_pragma=busy_timeout(5000)"),
		PostgresDSN: getenv("POSTGRES_DSN", ""),
		DynamoTable: getenv("DYNAMODB_TABLE", "mmchat-documents"),
		GCPProject:  getenv("GCP_PROJECT", ""),

		BlobStore:   strings.ToLower(getenv("BLOBSTORE_BACKEND", "local")),
		BlobDir:     getenv("BLOB_DIR", "blobs"),
		BlobBaseURL: getenv("BLOB_BASE_URL", "http://localhost:8080/blobs"),
		S3Bucket:    getenv("S3_BUCKET", ""),
		S3URLTTL:    time.Duration(getint("S3_URL_TTL_MIN", 15)) * time.Minute,

		MinimizeMinWidth: getint("MINIMIZE_MIN_WIDTH", 700),
		TypingIdle:       time.Duration(getint("TYPING_IDLE_MS", 3000)) * time.Millisecond,
		DraftPolicy:      strings.ToLower(getenv("DRAFT_POLICY", "keep")),
	}
	return cfg
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	if c.JWTSecret == "" && c.JWTSecretParam == "" {
		return fmt.Errorf("config: JWT_SECRET or JWT_SECRET_PARAM is required")
	}
	switch c.DocStore {
	case "memory":
	case "sqlite":
		if c.SQLiteDSN == "" {
			return fmt.Errorf("config: SQLITE_DSN is required for the sqlite backend")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: POSTGRES_DSN is required for the postgres backend")
		}
	case "dynamodb":
		if c.DynamoTable == "" {
			return fmt.Errorf("config: DYNAMODB_TABLE is required for the dynamodb backend")
		}
	case "firestore":
		if c.GCPProject == "" {
			return fmt.Errorf("config: GCP_PROJECT is required for the firestore backend")
		}
	default:
		return fmt.Errorf("config: unknown DOCSTORE_BACKEND %q", c.DocStore)
	}
	switch c.BlobStore {
	case "local":
		if c.BlobDir == "" {
			return fmt.Errorf("config: BLOB_DIR is required for the local blob backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("config: S3_BUCKET is required for the s3 blob backend")
		}
	default:
		return fmt.Errorf("config: unknown BLOBSTORE_BACKEND %q", c.BlobStore)
	}
	if c.MinimizeMinWidth <= 0 || c.TypingIdle <= 0 {
		return fmt.Errorf("config: MINIMIZE_MIN_WIDTH and TYPING_IDLE_MS must be positive")
	}
	return nil
}
