package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Log      LogConfig
	Server   ServerConfig
	Slack    SlackConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Agent    AgentConfig
	Docker   DockerConfig
}

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Level  string
	Format string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	RateLimit    float64
	RateBurst    int
}

// SlackConfig holds Slack integration settings.
type SlackConfig struct {
	BotToken      string
	SigningSecret string
	// PendingReaction is added to the user's message while a query runs.
	PendingReaction string
	// UploadTruncated attaches the full text when a preview was truncated.
	UploadTruncated bool
}

// RedisConfig holds Redis connection settings. An empty Addr disables the
// cross-process activity fan-out.
type RedisConfig struct {
	Addr        string
	Password    string //nolint:gosec // G117: Redis connection config
	DB          int
	SnapshotTTL time.Duration
}

// Enabled reports whether Redis is configured.
func (c *RedisConfig) Enabled() bool { return c.Addr != "" }

// DatabaseConfig holds PostgreSQL connection settings. An empty Host selects
// the in-memory store.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// Enabled reports whether PostgreSQL is configured.
func (c *DatabaseConfig) Enabled() bool { return c.Host != "" }

// AgentConfig holds settings for the Claude process and the activity view.
type AgentConfig struct {
	Runtime           string
	Binary            string
	ProjectsDir       string
	ClaudeHome        string
	DefaultWorkingDir string
	Model             string
	Mode              string
	ThinkingLimit     int
	GeneratingLimit   int
	Window            int
	UpdateInterval    time.Duration
	SyncTurnDelay     time.Duration
}

// DockerConfig holds container runtime settings.
type DockerConfig struct {
	Host        string
	Image       string
	NetworkMode string
	CPULimit    string
	MemLimit    string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	redisDB, err := getEnvInt("TETHER_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	snapshotTTL, err := getEnvDuration("TETHER_REDIS_SNAPSHOT_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbPort, err := getEnvInt("TETHER_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("TETHER_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("TETHER_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("TETHER_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimit, err := getEnvFloat("TETHER_SERVER_RATE_LIMIT", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("TETHER_SERVER_RATE_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	thinkingLimit, err := getEnvInt("TETHER_THINKING_LIMIT", 500)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	generatingLimit, err := getEnvInt("TETHER_GENERATING_LIMIT", 3000)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	window, err := getEnvInt("TETHER_ACTIVITY_WINDOW", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	updateInterval, err := getEnvDuration("TETHER_UPDATE_INTERVAL", time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	syncTurnDelay, err := getEnvDuration("TETHER_SYNC_TURN_DELAY", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	uploadTruncated, err := getEnvBool("TETHER_SLACK_UPLOAD_TRUNCATED", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	home, _ := os.UserHomeDir()
	claudeHome := getEnv("TETHER_CLAUDE_HOME", filepath.Join(home, ".claude"))

	cfg := &Config{
		Log: LogConfig{
			Level:  getEnv("TETHER_LOG_LEVEL", "info"),
			Format: getEnv("TETHER_LOG_FORMAT", "json"),
		},
		Server: ServerConfig{
			Addr:         getEnv("TETHER_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  getEnvList("TETHER_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RateLimit:    rateLimit,
			RateBurst:    rateBurst,
		},
		Slack: SlackConfig{
			BotToken:        getEnv("TETHER_SLACK_BOT_TOKEN", ""),
			SigningSecret:   getEnv("TETHER_SLACK_SIGNING_SECRET", ""),
			PendingReaction: getEnv("TETHER_SLACK_PENDING_REACTION", "hourglass_flowing_sand"),
			UploadTruncated: uploadTruncated,
		},
		Redis: RedisConfig{
			Addr:        getEnv("TETHER_REDIS_ADDR", ""),
			Password:    getEnv("TETHER_REDIS_PASSWORD", ""),
			DB:          redisDB,
			SnapshotTTL: snapshotTTL,
		},
		Database: DatabaseConfig{
			Host:     getEnv("TETHER_DB_HOST", ""),
			Port:     dbPort,
			User:     getEnv("TETHER_DB_USER", "tether"),
			Password: getEnv("TETHER_DB_PASSWORD", ""),
			DBName:   getEnv("TETHER_DB_NAME", "tether"),
			SSLMode:  getEnv("TETHER_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Agent: AgentConfig{
			Runtime:           getEnv("TETHER_AGENT_RUNTIME", "local"),
			Binary:            getEnv("TETHER_CLAUDE_BINARY", "claude"),
			ProjectsDir:       getEnv("TETHER_CLAUDE_PROJECTS_DIR", filepath.Join(claudeHome, "projects")),
			ClaudeHome:        claudeHome,
			DefaultWorkingDir: getEnv("TETHER_DEFAULT_WORKING_DIR", home),
			Model:             getEnv("TETHER_MODEL", ""),
			Mode:              getEnv("TETHER_MODE", "default"),
			ThinkingLimit:     thinkingLimit,
			GeneratingLimit:   generatingLimit,
			Window:            window,
			UpdateInterval:    updateInterval,
			SyncTurnDelay:     syncTurnDelay,
		},
		Docker: DockerConfig{
			Host:        getEnv("TETHER_DOCKER_HOST", ""),
			Image:       getEnv("TETHER_DOCKER_IMAGE", "ghcr.io/gosuda/tether-agent:latest"),
			NetworkMode: getEnv("TETHER_DOCKER_NETWORK", "bridge"),
			CPULimit:    getEnv("TETHER_DOCKER_CPU_LIMIT", "2"),
			MemLimit:    getEnv("TETHER_DOCKER_MEM_LIMIT", "4g"),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Slack.BotToken == "" {
		return errors.New("TETHER_SLACK_BOT_TOKEN is required")
	}
	if c.Slack.SigningSecret == "" {
		return errors.New("TETHER_SLACK_SIGNING_SECRET is required")
	}

	switch c.Agent.Runtime {
	case "local", "docker":
	default:
		return fmt.Errorf("TETHER_AGENT_RUNTIME must be local or docker, got %q", c.Agent.Runtime)
	}

	if c.Database.Enabled() {
		if c.Database.SSLMode == "disable" {
			log.Warn().Msg("TETHER_DB_SSLMODE=disable is insecure for remote databases")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("TETHER_DB_PORT must be 1-65535, got %d", c.Database.Port)
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("TETHER_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
		}
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("TETHER_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("TETHER_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("TETHER_SERVER_RATE_LIMIT must be positive, got %g", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("TETHER_SERVER_RATE_BURST must be >= 1, got %d", c.Server.RateBurst)
	}
	if c.Agent.ThinkingLimit < 1 {
		return fmt.Errorf("TETHER_THINKING_LIMIT must be >= 1, got %d", c.Agent.ThinkingLimit)
	}
	if c.Agent.GeneratingLimit < 1 {
		return fmt.Errorf("TETHER_GENERATING_LIMIT must be >= 1, got %d", c.Agent.GeneratingLimit)
	}
	if c.Agent.Window < 1 {
		return fmt.Errorf("TETHER_ACTIVITY_WINDOW must be >= 1, got %d", c.Agent.Window)
	}
	if c.Agent.UpdateInterval <= 0 {
		return fmt.Errorf("TETHER_UPDATE_INTERVAL must be positive, got %s", c.Agent.UpdateInterval)
	}
	if c.Agent.SyncTurnDelay < 0 {
		return fmt.Errorf("TETHER_SYNC_TURN_DELAY must not be negative, got %s", c.Agent.SyncTurnDelay)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
