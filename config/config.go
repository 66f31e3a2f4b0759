package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/feichai0017/file-converter/pkg/logger"
)

var (
	once      sync.Once
	appConfig *Config
	loadErr   error
)

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	GRPCAddr        string        `yaml:"grpcAddr"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
	RateLimit       float64       `yaml:"rateLimit"` // submissions per second per client
	RateBurst       int           `yaml:"rateBurst"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

type EngineConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
	MaxBackoff   time.Duration `yaml:"maxBackoff"`
	FFmpegPath   string        `yaml:"ffmpegPath"`
	TempDir      string        `yaml:"tempDir"`
}

type WorkerConfig struct {
	Mode        string `yaml:"mode"` // local | asynq
	Concurrency int    `yaml:"concurrency"`
	QueueDepth  int    `yaml:"queueDepth"`
	Queue       string `yaml:"queue"`
	// MetricsAddr is where a standalone worker process serves /metrics.
	MetricsAddr string `yaml:"metricsAddr"`
}

type RetentionConfig struct {
	ArtifactTTL   time.Duration `yaml:"artifactTTL"`
	JobTTL        time.Duration `yaml:"jobTTL"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // memory | filesystem | minio | s3
	Path    string `yaml:"path"`
}

type TrackerConfig struct {
	Backend string        `yaml:"backend"` // memory | redis
	LockTTL time.Duration `yaml:"lockTTL"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LibraryConfig struct {
	Backend     string `yaml:"backend"` // memory | postgres
	DatabaseURL string `yaml:"databaseURL"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"-"`
	Issuer    string `yaml:"issuer"`
}

type RegistryConfig struct {
	CatalogPath string `yaml:"catalogPath"` // empty means the embedded catalog
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       logger.Config   `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Worker    WorkerConfig    `yaml:"worker"`
	Retention RetentionConfig `yaml:"retention"`
	Storage   StorageConfig   `yaml:"storage"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Redis     RedisConfig     `yaml:"redis"`
	Library   LibraryConfig   `yaml:"library"`
	Auth      AuthConfig      `yaml:"auth"`
	Registry  RegistryConfig  `yaml:"registry"`

	Minio    *MinioConfig    `yaml:"-"`
	S3       *S3Config       `yaml:"-"`
	Textract *TextractConfig `yaml:"-"`
}

// Get loads the process configuration once. The YAML path comes from CONFIG_PATH
// and defaults to config.yaml next to the project root.
func Get() (*Config, error) {
	once.Do(func() {
		loadDotEnv()
		path := os.Getenv("CONFIG_PATH")
		if path == "" {
			path = filepath.Join(projectRoot(), "config.yaml")
		}
		appConfig, loadErr = Load(path)
	})
	return appConfig, loadErr
}

// Load reads the YAML file at path (a missing file is not an error), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			log.Printf("Warning: config file not found at %s, using defaults", path)
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.Minio = loadMinioConfig()
	cfg.S3 = loadS3Config()
	cfg.Textract = loadTextractConfig()
	normalize(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			GRPCAddr:        ":9090",
			MaxUploadBytes:  100 << 20,
			RateLimit:       5,
			RateBurst:       10,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Log: logger.DefaultConfig(),
		Engine: EngineConfig{
			Timeout:      2 * time.Minute,
			MaxRetries:   2,
			RetryBackoff: 200 * time.Millisecond,
			MaxBackoff:   5 * time.Second,
			FFmpegPath:   "ffmpeg",
		},
		Worker: WorkerConfig{
			Mode:        "local",
			Concurrency: runtime.NumCPU(),
			QueueDepth:  64,
			Queue:       "conversions",
			MetricsAddr: ":9100",
		},
		Retention: RetentionConfig{
			ArtifactTTL:   time.Hour,
			JobTTL:        24 * time.Hour,
			SweepInterval: time.Minute,
		},
		Storage: StorageConfig{Backend: "memory", Path: "data"},
		Tracker: TrackerConfig{Backend: "memory", LockTTL: 5 * time.Minute},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Library: LibraryConfig{Backend: "memory"},
		Auth:    AuthConfig{Issuer: "file-converter"},
	}
}

// Validate rejects combinations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Worker.Mode {
	case "local":
	case "asynq":
		if c.Tracker.Backend != "redis" {
			return errors.New("worker.mode asynq requires tracker.backend redis")
		}
		if c.Storage.Backend == "memory" {
			return errors.New("worker.mode asynq requires a shared storage backend")
		}
	default:
		return fmt.Errorf("unknown worker.mode %q", c.Worker.Mode)
	}

	switch c.Storage.Backend {
	case "memory", "filesystem", "minio", "s3":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Tracker.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown tracker.backend %q", c.Tracker.Backend)
	}
	switch c.Library.Backend {
	case "memory":
	case "postgres":
		if c.Library.DatabaseURL == "" {
			return errors.New("library.databaseURL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown library.backend %q", c.Library.Backend)
	}

	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be positive")
	}
	if c.Worker.QueueDepth < 0 {
		return errors.New("worker.queueDepth must not be negative")
	}
	if c.Engine.MaxRetries < 0 {
		return errors.New("engine.maxRetries must not be negative")
	}
	return nil
}

func normalize(c *Config) {
	if c.Engine.Timeout <= 0 {
		c.Engine.Timeout = 2 * time.Minute
	}
	if c.Engine.RetryBackoff <= 0 {
		c.Engine.RetryBackoff = 200 * time.Millisecond
	}
	if c.Engine.MaxBackoff < c.Engine.RetryBackoff {
		c.Engine.MaxBackoff = c.Engine.RetryBackoff
	}
	if c.Retention.ArtifactTTL <= 0 {
		c.Retention.ArtifactTTL = time.Hour
	}
	if c.Retention.JobTTL < c.Retention.ArtifactTTL {
		c.Retention.JobTTL = c.Retention.ArtifactTTL
	}
	if c.Retention.SweepInterval <= 0 {
		c.Retention.SweepInterval = time.Minute
	}
	if c.Tracker.LockTTL <= 0 {
		c.Tracker.LockTTL = c.Engine.Timeout * time.Duration(c.Engine.MaxRetries+2)
	}
	if c.Worker.Queue == "" {
		c.Worker.Queue = "conversions"
	}
}

func applyEnv(c *Config) {
	setString(&c.Server.Addr, "SERVER_ADDR")
	setString(&c.Server.GRPCAddr, "GRPC_ADDR")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Worker.Mode, "WORKER_MODE")
	setInt(&c.Worker.Concurrency, "WORKER_CONCURRENCY")
	setInt(&c.Worker.QueueDepth, "WORKER_QUEUE_DEPTH")
	setString(&c.Worker.MetricsAddr, "WORKER_METRICS_ADDR")
	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Storage.Path, "STORAGE_PATH")
	setString(&c.Tracker.Backend, "TRACKER_BACKEND")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setString(&c.Library.Backend, "LIBRARY_BACKEND")
	setString(&c.Library.DatabaseURL, "DATABASE_URL")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Engine.FFmpegPath, "FFMPEG_PATH")
	setString(&c.Registry.CatalogPath, "CATALOG_PATH")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = n
}

func loadDotEnv() {
	envPath := filepath.Join(projectRoot(), ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: .env file not found at %s, falling back to environment variables", envPath)
	}
}

func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Dir(filepath.Dir(filename))
}
