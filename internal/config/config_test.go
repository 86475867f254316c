package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

func TestMustLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	for _, k := range []string{"DOCSTORE_BACKEND", "TYPING_IDLE_MS", "MINIMIZE_MIN_WIDTH", "DRAFT_POLICY", "S3_URL_TTL_MIN"} {
		t.Setenv(k, "")
	}

	cfg := MustLoad()
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "memory", cfg.DocStore)
	require.Equal(t, 700, cfg.MinimizeMinWidth)
	require.Equal(t, 3*time.Second, cfg.TypingIdle)
	require.Equal(t, 15*time.Minute, cfg.S3URLTTL)
	require.Equal(t, "keep", cfg.DraftPolicy)
	require.NoError(t, cfg.Validate())
}

func TestMustLoad_FromDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DOCSTORE_BACKEND=SQLite\nTYPING_IDLE_MS=1500\nMINIMIZE_MIN_WIDTH=900\n"), 0o600))
	for _, k := range []string{"DOCSTORE_BACKEND", "TYPING_IDLE_MS", "MINIMIZE_MIN_WIDTH"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	require.NoError(t, godotenv.Load(path))

	cfg := MustLoad()
	require.Equal(t, "sqlite", cfg.DocStore)
	require.Equal(t, 1500*time.Millisecond, cfg.TypingIdle)
	require.Equal(t, 900, cfg.MinimizeMinWidth)
}

func TestValidate(t *testing.T) {
	base := Config{
		JWTSecret:        "s",
		DocStore:         "memory",
		BlobStore:        "local",
		BlobDir:          "blobs",
		MinimizeMinWidth: 700,
		TypingIdle:       time.Second,
	}
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"no secret":         func(c *Config) { c.JWTSecret = "" },
		"unknown docstore":  func(c *Config) { c.DocStore = "mongo" },
		"postgres no dsn":   func(c *Config) { c.DocStore = "postgres" },
		"firestore no proj": func(c *Config) { c.DocStore = "firestore" },
		"s3 no bucket":      func(c *Config) { c.BlobStore = "s3" },
		"unknown blobs":     func(c *Config) { c.BlobStore = "ftp" },
		"zero idle":         func(c *Config) { c.TypingIdle = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}

	c := base
	c.JWTSecret, c.JWTSecretParam = "", "/mmchat/jwt"
	require.NoError(t, c.Validate())
}
