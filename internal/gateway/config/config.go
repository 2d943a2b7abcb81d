package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	Env        string
	Automation AutomationConfig
	Storage    StorageConfig
	Callback   CallbackConfig
	Session    SessionConfig
}

// AutomationConfig points at the remote execution service.
type AutomationConfig struct {
	BaseURL     string
	Activity    string
	AccessToken string
	Retries     int
	RetryDelay  time.Duration
}

type StorageConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// CallbackConfig holds the public base URL the remote service calls back on.
type CallbackConfig struct {
	BaseURL string
}

type SessionConfig struct {
	// PollTimeout bounds how long a session job's pull request may wait
	// for the next parameter revision before it is released empty-handed.
	PollTimeout time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8080", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:       *port,
		Env:        env,
		Automation: loadAutomationConfig(),
		Storage:    loadStorageConfig(env),
		Callback:   loadCallbackConfig(*port),
		Session:    loadSessionConfig(),
	}, nil
}

func loadAutomationConfig() AutomationConfig {
	return AutomationConfig{
		BaseURL:     firstNonEmpty(strings.TrimSpace(os.Getenv("AUTOMATION_BASE_URL")), "https://developer.api.autodesk.com/da/us-east/v3"),
		Activity:    firstNonEmpty(strings.TrimSpace(os.Getenv("AUTOMATION_ACTIVITY")), "UpdateShelfParams+prod"),
		AccessToken: strings.TrimSpace(os.Getenv("AUTOMATION_ACCESS_TOKEN")),
		Retries:     intFromEnv("AUTOMATION_SUBMIT_RETRIES", 3),
		RetryDelay:  durationFromEnv("AUTOMATION_RETRY_DELAY", 2*time.Second),
	}
}

func loadStorageConfig(env string) StorageConfig {
	return StorageConfig{
		Endpoint:  resolveStorageEndpoint(env),
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("STORAGE_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("STORAGE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("STORAGE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("STORAGE_S3_BUCKET")), "shelfpilot-artifacts"),
		UseSSL:    resolveStorageUseSSL(env),
	}
}

func loadCallbackConfig(port string) CallbackConfig {
	base := strings.TrimSpace(os.Getenv("CALLBACK_BASE_URL"))
	if base == "" {
		// Only usable when the remote service can reach this host directly,
		// e.g. through a tunnel during local development.
		base = "http://localhost" + port
	}
	return CallbackConfig{BaseURL: strings.TrimRight(base, "/")}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		PollTimeout: durationFromEnv("SESSION_POLL_TIMEOUT", 15*time.Minute),
	}
}

func resolveStorageEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return firstNonEmpty(strings.TrimSpace(os.Getenv("STORAGE_MINIO_ENDPOINT")), "minio:9000")
	}
	return strings.TrimSpace(os.Getenv("STORAGE_S3_ENDPOINT"))
}

func resolveStorageUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("STORAGE_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func intFromEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
