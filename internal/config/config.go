package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Environment string
	HTTPAddr    string
	PublicURL   string
	DataDir     string
	DBPath      string

	BotName        string
	PluginLimit    int
	PluginManifest string

	AuthStrategy     string // password | token | passticket
	SecurityFile     string
	UserStorage      string
	PassticketBinary string
	PassticketApplID string

	ZosmfProtocol           string
	ZosmfHost               string
	ZosmfPort               int
	ZosmfRejectUnauthorized bool

	ChallengeTTLSeconds int
	ChallengeSweepCron  string

	LoginRatePerSecond float64
	LoginRateBurst     int

	ResumeWorkers int

	DevChatURL string
}

func FromEnv() Config {
	dataDir := stringOrDefault("CHATGATE_DATA_DIR", "/data")

	return Config{
		Environment:    stringOrDefault("CHATGATE_ENV", "development"),
		HTTPAddr:       stringOrDefault("CHATGATE_HTTP_ADDR", ":8080"),
		PublicURL:      stringOrDefault("CHATGATE_PUBLIC_URL", "http://localhost:8080"),
		DataDir:        dataDir,
		DBPath:         stringOrDefault("CHATGATE_DB_PATH", filepath.Join(dataDir, "chatgate", "audit.sqlite")),
		BotName:        stringOrDefault("CHATGATE_BOT_NAME", "chatgate"),
		PluginLimit:    intOrDefault("CHATGATE_PLUGIN_LIMIT", 1),
		PluginManifest: stringOrDefault("CHATGATE_PLUGIN_MANIFEST", filepath.Join(dataDir, "chatgate", "plugins.yaml")),

		AuthStrategy:     strategyOrDefault("CHATGATE_AUTH_STRATEGY", "token"),
		SecurityFile:     stringOrDefault("CHATGATE_SECURITY_FILE", filepath.Join(dataDir, "chatgate", "security.yaml")),
		UserStorage:      stringOrDefault("CHATGATE_USER_STORAGE", filepath.Join(dataDir, "chatgate", "users.enc")),
		PassticketBinary: strings.TrimSpace(os.Getenv("CHATGATE_PASSTICKET_BINARY")),
		PassticketApplID: strings.TrimSpace(os.Getenv("CHATGATE_PASSTICKET_APPLID")),

		ZosmfProtocol:           stringOrDefault("CHATGATE_ZOSMF_PROTOCOL", "https"),
		ZosmfHost:               strings.TrimSpace(os.Getenv("CHATGATE_ZOSMF_HOST")),
		ZosmfPort:               intOrDefault("CHATGATE_ZOSMF_PORT", 443),
		ZosmfRejectUnauthorized: boolOrDefault("CHATGATE_ZOSMF_REJECT_UNAUTHORIZED", true),

		ChallengeTTLSeconds: intOrZero("CHATGATE_CHALLENGE_TTL_SECONDS"),
		ChallengeSweepCron:  stringOrDefault("CHATGATE_CHALLENGE_SWEEP_CRON", "@every 1m"),

		LoginRatePerSecond: floatOrDefault("CHATGATE_LOGIN_RATE_PER_SECOND", 1),
		LoginRateBurst:     intOrDefault("CHATGATE_LOGIN_RATE_BURST", 5),

		ResumeWorkers: intOrDefault("CHATGATE_RESUME_WORKERS", 2),

		DevChatURL: strings.TrimSpace(os.Getenv("CHATGATE_DEVCHAT_URL")),
	}
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

// intOrZero is intOrDefault with zero allowed, for settings where zero means
// disabled.
func intOrZero(name string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func floatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func strategyOrDefault(name, fallback string) string {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch value {
	case "password", "token", "passticket":
		return value
	default:
		return fallback
	}
}
