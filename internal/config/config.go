package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Provider names the inference backend used by the generator.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

// Config holds runtime configuration values for the chatbot server.
type Config struct {
	DBPath        string
	ServerPort    int
	LogLevel      string
	LLMProvider   Provider
	LLMEndpoint   string
	LLMAPIKey     string
	LLMModel      string
	FactsPath     string
	DumpFacts     bool
	SentryDSN     string
	Environment   string
	ShutdownGrace time.Duration
	RateLimit     RateLimitConfig
}

// RateLimitConfig controls the per-client token bucket in front of the HTTP API.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

const (
	defaultDBPath         = "./data/chatbot.db"
	defaultServerPort     = 8080
	defaultLogLevel       = "info"
	defaultProvider       = ProviderOpenAI
	defaultModel          = "facebook/opt-125m"
	defaultFactsPath      = "./data/newjeans.json"
	defaultEnvironment    = "development"
	defaultShutdownGrace  = 10 * time.Second
	defaultRateLimitRPS   = 2.0
	defaultRateLimitBurst = 10
	defaultRateLimitTTL   = 10 * time.Minute
)

// Load reads configuration values from environment variables, applying defaults where necessary.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:        getEnv("DB_PATH", defaultDBPath),
		LogLevel:      getEnv("LOG_LEVEL", defaultLogLevel),
		LLMEndpoint:   strings.TrimSpace(os.Getenv("LLM_ENDPOINT")),
		LLMAPIKey:     strings.TrimSpace(os.Getenv("LLM_API_KEY")),
		LLMModel:      getEnv("LLM_MODEL", defaultModel),
		FactsPath:     getEnv("FACTS_PATH", defaultFactsPath),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		Environment:   getEnv("ENV", defaultEnvironment),
		ShutdownGrace: defaultShutdownGrace,
	}

	provider, err := parseProvider(getEnv("LLM_PROVIDER", string(defaultProvider)))
	if err != nil {
		return nil, eris.Wrap(err, "parsing LLM_PROVIDER")
	}
	cfg.LLMProvider = provider

	portValue := getEnv("SERVER_PORT", strconv.Itoa(defaultServerPort))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid SERVER_PORT value: %s", portValue)
	}
	cfg.ServerPort = port

	dumpValue := getEnv("DUMP_FACTS", "false")
	dump, err := strconv.ParseBool(dumpValue)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid DUMP_FACTS value: %s", dumpValue)
	}
	cfg.DumpFacts = dump

	rateLimit, err := loadRateLimit()
	if err != nil {
		return nil, err
	}
	cfg.RateLimit = rateLimit

	return cfg, nil
}

func loadRateLimit() (RateLimitConfig, error) {
	rpsValue := getEnv("RATE_LIMIT_RPS", strconv.FormatFloat(defaultRateLimitRPS, 'f', -1, 64))
	rps, err := strconv.ParseFloat(rpsValue, 64)
	if err != nil || rps <= 0 {
		return RateLimitConfig{}, eris.Errorf("invalid RATE_LIMIT_RPS value: %s", rpsValue)
	}

	burstValue := getEnv("RATE_LIMIT_BURST", strconv.Itoa(defaultRateLimitBurst))
	burst, err := strconv.Atoi(burstValue)
	if err != nil || burst <= 0 {
		return RateLimitConfig{}, eris.Errorf("invalid RATE_LIMIT_BURST value: %s", burstValue)
	}

	ttlValue := getEnv("RATE_LIMIT_CLIENT_TTL", defaultRateLimitTTL.String())
	ttl, err := time.ParseDuration(ttlValue)
	if err != nil || ttl <= 0 {
		return RateLimitConfig{}, eris.Errorf("invalid RATE_LIMIT_CLIENT_TTL value: %s", ttlValue)
	}

	return RateLimitConfig{
		RequestsPerSecond: rps,
		Burst:             burst,
		ClientTTL:         ttl,
	}, nil
}

func parseProvider(raw string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderOllama:
		return ProviderOllama, nil
	default:
		return "", eris.Errorf("unsupported provider: %s", raw)
	}
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
