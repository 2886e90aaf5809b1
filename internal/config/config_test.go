package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.json")
	c := Default()
	c.Annotator.Labels = []string{"car", "sign"}
	c.Engine.PendingTimeoutMS = 3000
	require.NoError(t, c.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)

	sc := loaded.SessionConfig()
	assert.Equal(t, 3*time.Second, sc.PendingTimeout)
	assert.Equal(t, 500*time.Millisecond, sc.SuggestDelay)
	assert.Equal(t, []string{"car", "sign"}, loaded.HostConfig().Labels)
	assert.Equal(t, 512, loaded.LabelerConfig().MaxDim)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"vision": {"model": "llava"}}`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "llava", c.Vision.Model)
	assert.Equal(t, "ollama", c.Vision.Backend)
	assert.Equal(t, ":8090", c.Server.Addr)

	c, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "parse")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("VISION_BACKEND", "llamacpp")
	t.Setenv("MINIO_ROOT_USER", "minio")
	t.Setenv("S3_SECRET_KEY", "secret")
	t.Setenv("S3_ENABLED", "true")
	t.Setenv("ANNOTATOR_LABELS", "car, person,,tree")
	t.Setenv("ANNOTATOR_AUTO_PROPOSE", "1")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("VISION_MODEL=qwen2-vl\nVISION_BACKEND=ollama\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("VISION_MODEL") })

	c := Default()
	require.NoError(t, c.ApplyEnv(envFile, filepath.Join(t.TempDir(), "absent.env")))

	assert.Equal(t, "llamacpp", c.Vision.Backend, "process env wins over .env")
	assert.Equal(t, "qwen2-vl", c.Vision.Model)
	assert.Equal(t, "minio", c.Storage.S3.AccessKey)
	assert.Equal(t, "secret", c.Storage.S3.SecretKey)
	assert.True(t, c.Storage.Enabled)
	assert.Equal(t, []string{"car", "person", "tree"}, c.Annotator.Labels)
	assert.True(t, c.Annotator.AutoPropose)

	assert.False(t, c.Storage.PostgresEnabled())

	t.Setenv("DATABASE_URL", "postgres://fallback/db")
	t.Setenv("ANNOTATOR_PG_DSN", "postgres://annotator@db:5432/labels")
	t.Setenv("ANNOTATOR_PROJECT", "streets")
	t.Setenv("ANNOTATOR_USER", "alex")
	c = Default()
	require.NoError(t, c.ApplyEnv())
	assert.True(t, c.Storage.PostgresEnabled())
	assert.Equal(t, "postgres://annotator@db:5432/labels", c.Storage.Postgres.DSN)
	assert.Equal(t, "streets", c.Storage.Postgres.Project)
	assert.Equal(t, "alex", c.Storage.Postgres.User)
	require.NoError(t, c.Validate())

	t.Setenv("S3_USE_SSL", "maybe")
	assert.ErrorContains(t, Default().ApplyEnv(), "S3_USE_SSL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "backend", mutate: func(c *Config) { c.Vision.Backend = "gpt" }, want: "vision.backend"},
		{name: "path", mutate: func(c *Config) { c.Server.Path = "ws" }, want: "server.path"},
		{name: "view width", mutate: func(c *Config) { c.Engine.ViewWidth = 0 }, want: "view_width"},
		{name: "roi pair", mutate: func(c *Config) { c.Vision.ROIWidth = 320 }, want: "roi"},
		{name: "storage", mutate: func(c *Config) { c.Storage.Enabled = true; c.Storage.S3.Bucket = "" }, want: "storage.s3"},
		{name: "postgres dsn", mutate: func(c *Config) { c.Storage.Postgres.DSN = "db.example" }, want: "storage.postgres.dsn"},
		{name: "quality", mutate: func(c *Config) { c.Output.Quality = 0 }, want: "output.quality"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}
