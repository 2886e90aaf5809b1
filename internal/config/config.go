package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/menta2k/bbox-annotator/pkg/host"
	"github.com/menta2k/bbox-annotator/pkg/labeler"
	"github.com/menta2k/bbox-annotator/pkg/pgstore"
	"github.com/menta2k/bbox-annotator/pkg/session"
	"github.com/menta2k/bbox-annotator/pkg/storage"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Engine    EngineConfig    `json:"engine"`
	Annotator AnnotatorConfig `json:"annotator"`
	Vision    VisionConfig    `json:"vision"`
	Storage   StorageConfig   `json:"storage"`
	Output    OutputConfig    `json:"output"`
	Log       LogConfig       `json:"log"`
}

// ServerConfig holds the websocket host listener
type ServerConfig struct {
	Addr string `json:"addr"`
	Path string `json:"path"`
}

// EngineConfig holds the interaction engine timing and viewport
type EngineConfig struct {
	ViewWidth        float64 `json:"view_width"`
	SuggestDelayMS   int     `json:"suggest_delay_ms"`
	PendingTimeoutMS int     `json:"pending_timeout_ms"`
}

// AnnotatorConfig holds what every new session starts with
type AnnotatorConfig struct {
	DefaultImage string   `json:"default_image"`
	Labels       []string `json:"labels"`
	LineWidth    float64  `json:"line_width"`
	UseSpace     bool     `json:"use_space"`

	// AutoPropose outlines high-contrast regions on images with no saved boxes
	AutoPropose bool `json:"auto_propose"`
}

// VisionConfig holds the label suggestion backend
type VisionConfig struct {
	Backend   string `json:"backend"`
	URL       string `json:"url"`
	Model     string `json:"model"`
	Prompt    string `json:"prompt,omitempty"`
	SendSize  int    `json:"send_size"`
	SendFmt   string `json:"send_fmt"`
	SendQ     int    `json:"send_quality"`
	Padding   int    `json:"padding"`
	ROIWidth  int    `json:"roi_width"`
	ROIHeight int    `json:"roi_height"`
	CacheSize int    `json:"cache_size"`
}

// StorageConfig holds the MinIO bucket and the annotation database. Annotations
// go to PostgreSQL when a DSN is set, else to the bucket, else to AnnotationDir.
type StorageConfig struct {
	Enabled       bool           `json:"enabled"`
	S3            storage.Config `json:"s3"`
	Postgres      pgstore.Config `json:"postgres"`
	AnnotationDir string         `json:"annotation_dir"`
}

// PostgresEnabled reports whether annotations are kept in PostgreSQL
func (s StorageConfig) PostgresEnabled() bool {
	return strings.TrimSpace(s.Postgres.DSN) != ""
}

// OutputConfig holds configuration for rendered output
type OutputConfig struct {
	OverlayDir    string `json:"overlay_dir"`
	DefaultFormat string `json:"default_format"`
	Quality       int    `json:"quality"`
}

type LogConfig struct {
	Mode  string `json:"mode"`
	Level string `json:"level"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8090",
			Path: "/ws",
		},
		Engine: EngineConfig{
			ViewWidth:      1200,
			SuggestDelayMS: 500,
		},
		Annotator: AnnotatorConfig{
			LineWidth: 2,
			UseSpace:  false,
		},
		Vision: VisionConfig{
			Backend:   "ollama",
			URL:       "http://localhost:11434",
			Model:     "minicpm-v4",
			SendSize:  512,
			SendFmt:   "jpg",
			SendQ:     90,
			Padding:   4,
			CacheSize: 256,
		},
		Storage: StorageConfig{
			S3: storage.Config{
				Endpoint: "localhost:9000",
				Region:   "us-east-1",
				Bucket:   "annotations",
			},
			AnnotationDir: "./data",
		},
		Output: OutputConfig{
			DefaultFormat: "png",
			Quality:       90,
		},
		Log: LogConfig{
			Mode: "debug",
		},
	}
}

// LoadFromFile loads configuration from a JSON file over the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// Load reads filename when it exists, otherwise starts from the defaults
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}
	if _, err := os.Stat(filename); errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return LoadFromFile(filename)
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv loads .env style files, when present, and overlays environment variables
func (c *Config) ApplyEnv(envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	setString(&c.Server.Addr, "ANNOTATOR_ADDR")
	setString(&c.Annotator.DefaultImage, "ANNOTATOR_IMAGE")
	if labels := env("ANNOTATOR_LABELS"); labels != "" {
		c.Annotator.Labels = splitList(labels)
	}
	setString(&c.Vision.Backend, "VISION_BACKEND")
	setString(&c.Vision.URL, "VISION_URL")
	setString(&c.Vision.Model, "VISION_MODEL")
	setString(&c.Storage.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.Storage.S3.Region, "S3_REGION")
	setString(&c.Storage.S3.Bucket, "S3_BUCKET")
	c.Storage.S3.AccessKey = firstNonEmpty(env("S3_ACCESS_KEY"), env("MINIO_ROOT_USER"), c.Storage.S3.AccessKey)
	c.Storage.S3.SecretKey = firstNonEmpty(env("S3_SECRET_KEY"), env("MINIO_ROOT_PASSWORD"), c.Storage.S3.SecretKey)
	c.Storage.Postgres.DSN = firstNonEmpty(env("ANNOTATOR_PG_DSN"), env("DATABASE_URL"), c.Storage.Postgres.DSN)
	setString(&c.Storage.Postgres.Project, "ANNOTATOR_PROJECT")
	setString(&c.Storage.Postgres.User, "ANNOTATOR_USER")
	setString(&c.Storage.AnnotationDir, "ANNOTATION_DIR")
	setString(&c.Output.OverlayDir, "OVERLAY_DIR")
	setString(&c.Log.Mode, "LOG_MODE")
	setString(&c.Log.Level, "LOG_LEVEL")

	for name, dst := range map[string]*bool{
		"S3_ENABLED":             &c.Storage.Enabled,
		"S3_USE_SSL":             &c.Storage.S3.UseSSL,
		"ANNOTATOR_USE_SPACE":    &c.Annotator.UseSpace,
		"ANNOTATOR_AUTO_PROPOSE": &c.Annotator.AutoPropose,
	} {
		raw := env(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with /")
	}
	if c.Engine.ViewWidth <= 0 {
		return fmt.Errorf("engine.view_width must be positive")
	}
	if c.Engine.SuggestDelayMS < 0 || c.Engine.PendingTimeoutMS < 0 {
		return fmt.Errorf("engine delays cannot be negative")
	}
	if c.Annotator.LineWidth <= 0 {
		return fmt.Errorf("annotator.line_width must be positive")
	}
	switch c.Vision.Backend {
	case "ollama", "llamacpp", "none":
	default:
		return fmt.Errorf("vision.backend must be ollama, llamacpp or none")
	}
	if c.Vision.SendQ < 1 || c.Vision.SendQ > 100 {
		return fmt.Errorf("vision.send_quality must be between 1 and 100")
	}
	if c.Vision.Padding < 0 {
		return fmt.Errorf("vision.padding cannot be negative")
	}
	if (c.Vision.ROIWidth > 0) != (c.Vision.ROIHeight > 0) {
		return fmt.Errorf("vision.roi_width and vision.roi_height must be set together")
	}
	if c.Storage.Enabled && (c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "") {
		return fmt.Errorf("storage.s3 endpoint and bucket are required when storage is enabled")
	}
	if c.Storage.PostgresEnabled() && !validDSN(c.Storage.Postgres.DSN) {
		return fmt.Errorf("storage.postgres.dsn must be a postgres:// URL or key=value list")
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}
	return nil
}

// SessionConfig maps engine settings onto the session
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		ViewWidth:      c.Engine.ViewWidth,
		SuggestDelay:   time.Duration(c.Engine.SuggestDelayMS) * time.Millisecond,
		PendingTimeout: time.Duration(c.Engine.PendingTimeoutMS) * time.Millisecond,
	}
}

// LabelerConfig maps vision settings onto the labeler
func (c *Config) LabelerConfig() labeler.Config {
	return labeler.Config{
		Model:     c.Vision.Model,
		Prompt:    c.Vision.Prompt,
		Padding:   c.Vision.Padding,
		MaxDim:    c.Vision.SendSize,
		Quality:   c.Vision.SendQ,
		Format:    c.Vision.SendFmt,
		ROIWidth:  c.Vision.ROIWidth,
		ROIHeight: c.Vision.ROIHeight,
		CacheSize: c.Vision.CacheSize,
	}
}

// HostConfig maps annotator settings onto the host service
func (c *Config) HostConfig() host.Config {
	return host.Config{
		DefaultImage: c.Annotator.DefaultImage,
		Labels:       c.Annotator.Labels,
		LineWidth:    c.Annotator.LineWidth,
		UseSpace:     c.Annotator.UseSpace,
		OverlayDir:   c.Output.OverlayDir,
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "bbox-annotator", "config.json")
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func setString(dst *string, name string) {
	if v := env(name); v != "" {
		*dst = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func validDSN(dsn string) bool {
	dsn = strings.TrimSpace(dsn)
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "=")
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
