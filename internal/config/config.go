package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/gema-grader/internal/grading"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName        string
	AppEnv         string
	AppPort        string
	BodyLimitMB    int
	GradeRateLimit int
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	NATSURL        string
	NATSSubject    string
	Grading        GradingConfig
	Docker         DockerConfig
	Storage        StorageConfig
	Toolchains     map[string]grading.ToolchainConfig
}

// GradingConfig controls the grading pipeline.
type GradingConfig struct {
	ScratchRoot    string
	CommandTimeout time.Duration
	SampleTimeout  time.Duration
	SampleRuns     int
	MaxArchiveMB   int
	MaxOutputKB    int
	Runner         string
	Probe          string
	GNUTimePath    string
	ToolchainsFile string
}

// DockerConfig configures the container runner.
type DockerConfig struct {
	Host            string
	MemoryMB        int
	CPUShares       int
	NetworkDisabled bool
}

// StorageConfig selects and configures the archive store.
type StorageConfig struct {
	Backend             string
	Root                string
	ReferenceCacheTTL   time.Duration
	MinIOEndpoint       string
	MinIOAccessKey      string
	MinIOSecretKey      string
	MinIOBucket         string
	MinIOUseSSL         bool
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
}

// Runner backends.
const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

// Probe backends.
const (
	ProbeGNUTime = "gnutime"
	ProbeProcess = "process"
)

// Storage backends.
const (
	StorageFilesystem = "filesystem"
	StorageMinIO      = "minio"
	StorageCloudinary = "cloudinary"
)

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.body_limit_mb", 64)
	v.SetDefault("app.grade_rate_limit", 30)
	v.SetDefault("nats.subject", "grading.completed")
	v.SetDefault("grading.scratch_root", filepath.Join(os.TempDir(), "gema-grader"))
	v.SetDefault("grading.command_timeout", "2m")
	v.SetDefault("grading.sample_timeout", "30s")
	v.SetDefault("grading.sample_runs", grading.DefaultSampleRuns)
	v.SetDefault("grading.max_archive_mb", 256)
	v.SetDefault("grading.max_output_kb", 1024)
	v.SetDefault("grading.runner", RunnerLocal)
	v.SetDefault("grading.probe", ProbeGNUTime)
	v.SetDefault("docker.memory_mb", 512)
	v.SetDefault("docker.cpu_shares", 512)
	v.SetDefault("docker.network_disabled", true)
	v.SetDefault("storage.backend", StorageFilesystem)
	v.SetDefault("storage.root", "./data/archives")
	v.SetDefault("storage.reference_cache_ttl", "10m")
	v.SetDefault("minio.bucket", "gema-grading")
	v.SetDefault("cloudinary.folder", "gema/grading")

	commandTimeout, err := parseDuration(v, "grading.command_timeout")
	if err != nil {
		return Config{}, err
	}
	sampleTimeout, err := parseDuration(v, "grading.sample_timeout")
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := parseDuration(v, "storage.reference_cache_ttl")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:        v.GetString("app.name"),
		AppEnv:         v.GetString("app.env"),
		AppPort:        v.GetString("app.port"),
		BodyLimitMB:    v.GetInt("app.body_limit_mb"),
		GradeRateLimit: v.GetInt("app.grade_rate_limit"),
		DatabaseURL:    v.GetString("database.url"),
		RedisURL:       v.GetString("redis.url"),
		JWTSecret:      v.GetString("jwt.secret"),
		NATSURL:        v.GetString("nats.url"),
		NATSSubject:    v.GetString("nats.subject"),
		Grading: GradingConfig{
			ScratchRoot:    v.GetString("grading.scratch_root"),
			CommandTimeout: commandTimeout,
			SampleTimeout:  sampleTimeout,
			SampleRuns:     v.GetInt("grading.sample_runs"),
			MaxArchiveMB:   v.GetInt("grading.max_archive_mb"),
			MaxOutputKB:    v.GetInt("grading.max_output_kb"),
			Runner:         strings.ToLower(v.GetString("grading.runner")),
			Probe:          strings.ToLower(v.GetString("grading.probe")),
			GNUTimePath:    v.GetString("grading.gnutime_path"),
			ToolchainsFile: v.GetString("grading.toolchains_file"),
		},
		Docker: DockerConfig{
			Host:            v.GetString("docker.host"),
			MemoryMB:        v.GetInt("docker.memory_mb"),
			CPUShares:       v.GetInt("docker.cpu_shares"),
			NetworkDisabled: v.GetBool("docker.network_disabled"),
		},
		Storage: StorageConfig{
			Backend:             strings.ToLower(v.GetString("storage.backend")),
			Root:                v.GetString("storage.root"),
			ReferenceCacheTTL:   cacheTTL,
			MinIOEndpoint:       v.GetString("minio.endpoint"),
			MinIOAccessKey:      v.GetString("minio.access_key"),
			MinIOSecretKey:      v.GetString("minio.secret_key"),
			MinIOBucket:         v.GetString("minio.bucket"),
			MinIOUseSSL:         v.GetBool("minio.use_ssl"),
			CloudinaryCloudName: v.GetString("cloudinary.cloud_name"),
			CloudinaryAPIKey:    v.GetString("cloudinary.api_key"),
			CloudinaryAPISecret: v.GetString("cloudinary.api_secret"),
			CloudinaryFolder:    v.GetString("cloudinary.folder"),
		},
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if cfg.Grading.ToolchainsFile != "" {
		toolchains, err := LoadToolchains(cfg.Grading.ToolchainsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Toolchains = toolchains
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Grading.Runner {
	case RunnerLocal, RunnerDocker:
	default:
		return fmt.Errorf("unknown grading runner %q", c.Grading.Runner)
	}

	switch c.Grading.Probe {
	case ProbeGNUTime, ProbeProcess:
	default:
		return fmt.Errorf("unknown grading probe %q", c.Grading.Probe)
	}
	if c.Grading.Probe == ProbeProcess && c.Grading.Runner != RunnerLocal {
		return fmt.Errorf("the process probe requires the local runner")
	}
	// The host lookup for GNU time says nothing about what the images ship.
	if c.Grading.Probe == ProbeGNUTime && c.Grading.Runner == RunnerDocker && strings.TrimSpace(c.Grading.GNUTimePath) == "" {
		return fmt.Errorf("the gnutime probe with the docker runner requires GEMA_GRADING_GNUTIME_PATH, the time binary inside the toolchain images")
	}

	switch c.Storage.Backend {
	case StorageFilesystem, StorageMinIO, StorageCloudinary:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Grading.SampleRuns <= 0 {
		c.Grading.SampleRuns = grading.DefaultSampleRuns
	}
	if c.Grading.MaxArchiveMB <= 0 {
		c.Grading.MaxArchiveMB = 256
	}
	if c.Grading.MaxOutputKB <= 0 {
		c.Grading.MaxOutputKB = 1024
	}
	if c.BodyLimitMB <= 0 {
		c.BodyLimitMB = 64
	}
	if c.Docker.MemoryMB <= 0 {
		c.Docker.MemoryMB = 512
	}
	if c.Docker.CPUShares <= 0 {
		c.Docker.CPUShares = 512
	}
	return nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return duration, nil
}
