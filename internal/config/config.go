package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Storage   StorageConfig   `yaml:"storage"`
	Inference InferenceConfig `yaml:"inference"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Registry  RegistryConfig  `yaml:"registry"`
	Worker    WorkerConfig    `yaml:"worker"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	MaxQueuedJobs int64  `yaml:"max_queued_jobs"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// StorageConfig points at the filesystem root that holds per-stream chunk
// directories. The reprocessor resolves chunk layouts under it.
type StorageConfig struct {
	Root string `yaml:"root"`
}

type InferenceConfig struct {
	// Backend selects the model implementation: remote, local, or mock.
	Backend   string  `yaml:"backend"`
	ModelsDir string  `yaml:"models_dir"`
	RemoteURL string  `yaml:"remote_url"`
	TimeoutS  float64 `yaml:"timeout_s"`
}

type PipelineConfig struct {
	DetectionThreshold  float32 `yaml:"detection_threshold"`
	SnapshotThreshold   float32 `yaml:"snapshot_threshold"`
	KeypointThreshold   float32 `yaml:"keypoint_threshold"`
	AppearanceThreshold float32 `yaml:"appearance_threshold"`
	IoUGate             float32 `yaml:"iou_gate"`
	MaxLostFrames       int     `yaml:"max_lost_frames"`
	ReviveWindowS       int     `yaml:"revive_window_s"`
	ArchiveAfterS       int     `yaml:"archive_after_s"`
	MaxSpeedPxPerS      float32 `yaml:"max_speed_px_per_s"`
	FrameInterval       int     `yaml:"frame_interval"`
	KeypointEvery       int     `yaml:"keypoint_every"`
}

type RegistryConfig struct {
	HotTTLSeconds     int `yaml:"hot_ttl_seconds"`
	WarmRetentionDays int `yaml:"warm_retention_days"`
}

type WorkerConfig struct {
	Count       int `yaml:"count"`
	JobTimeoutS int `yaml:"job_timeout_s"`
	MetricsPort int `yaml:"metrics_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.NATS.MaxQueuedJobs == 0 {
		cfg.NATS.MaxQueuedJobs = 256
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "/var/lib/stablewatch/chunks"
	}
	if cfg.Inference.Backend == "" {
		cfg.Inference.Backend = "local"
	}
	if cfg.Inference.TimeoutS == 0 {
		cfg.Inference.TimeoutS = 10
	}
	if cfg.Pipeline.DetectionThreshold == 0 {
		cfg.Pipeline.DetectionThreshold = 0.5
	}
	if cfg.Pipeline.SnapshotThreshold == 0 {
		cfg.Pipeline.SnapshotThreshold = 0.3
	}
	if cfg.Pipeline.KeypointThreshold == 0 {
		cfg.Pipeline.KeypointThreshold = 0.3
	}
	if cfg.Pipeline.AppearanceThreshold == 0 {
		cfg.Pipeline.AppearanceThreshold = 0.7
	}
	if cfg.Pipeline.IoUGate == 0 {
		cfg.Pipeline.IoUGate = 0.3
	}
	if cfg.Pipeline.MaxLostFrames == 0 {
		cfg.Pipeline.MaxLostFrames = 30
	}
	if cfg.Pipeline.ReviveWindowS == 0 {
		cfg.Pipeline.ReviveWindowS = 10
	}
	if cfg.Pipeline.ArchiveAfterS == 0 {
		cfg.Pipeline.ArchiveAfterS = 30
	}
	if cfg.Pipeline.MaxSpeedPxPerS == 0 {
		cfg.Pipeline.MaxSpeedPxPerS = 200
	}
	if cfg.Pipeline.FrameInterval == 0 {
		cfg.Pipeline.FrameInterval = 1
	}
	if cfg.Pipeline.KeypointEvery == 0 {
		cfg.Pipeline.KeypointEvery = 1
	}
	if cfg.Registry.HotTTLSeconds == 0 {
		cfg.Registry.HotTTLSeconds = 300
	}
	if cfg.Registry.WarmRetentionDays == 0 {
		cfg.Registry.WarmRetentionDays = 30
	}
	if cfg.Worker.Count == 0 {
		cfg.Worker.Count = 4
	}
	if cfg.Worker.JobTimeoutS == 0 {
		cfg.Worker.JobTimeoutS = 300
	}
	if cfg.Worker.MetricsPort == 0 {
		cfg.Worker.MetricsPort = 9091
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SW_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SW_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SW_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SW_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SW_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SW_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SW_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SW_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("SW_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("SW_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("SW_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("SW_STORAGE_ROOT"); v != "" {
		cfg.Storage.Root = v
	}
	if v := os.Getenv("SW_INFERENCE_BACKEND"); v != "" {
		cfg.Inference.Backend = v
	}
	if v := os.Getenv("SW_MODELS_DIR"); v != "" {
		cfg.Inference.ModelsDir = v
	}
	if v := os.Getenv("SW_INFERENCE_URL"); v != "" {
		cfg.Inference.RemoteURL = v
	}
	if v := os.Getenv("SW_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Count = n
		}
	}
	if v := os.Getenv("SW_JOB_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.JobTimeoutS = n
		}
	}
}
