package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// ReasoningProvider defines the backend reasoning (LLM) service type
type ReasoningProvider string

const (
	ProviderNone       ReasoningProvider = "none"       // No LLM, keyword fallback only
	ProviderOllama     ReasoningProvider = "ollama"     // Local Ollama server
	ProviderOpenRouter ReasoningProvider = "openrouter" // OpenRouter (default, has free tier)
	ProviderGroq       ReasoningProvider = "groq"       // Groq (high-speed inference)
	ProviderCustom     ReasoningProvider = "custom"     // Custom OpenAI-compatible endpoint
)

// ClassifierBackend selects how Stage 2 obtains label/confidence scores
type ClassifierBackend string

const (
	BackendAuto     ClassifierBackend = "auto"     // Local ONNX if a model is found, else HTTP, else fallback
	BackendHugot    ClassifierBackend = "hugot"    // Local ONNX model via Hugot
	BackendHTTP     ClassifierBackend = "http"     // External classify service
	BackendFallback ClassifierBackend = "fallback" // Keyword rules, always escalates to Stage 3
)

// Config holds global settings for the Warden gateway
// All settings can be configured via environment variables or programmatically
type Config struct {
	// === Core Settings ===
	HTTPPort string // Port for the HTTP API (default: 8080)
	LogLevel string // zap log level: debug, info, warn, error
	LogJSON  bool   // Emit JSON logs (default: console in dev)

	// === Storage ===
	DatabaseURL string        // Postgres connection string; empty = in-memory store
	RedisURL    string        // Redis address; empty = in-memory cache and sessions
	CacheTTL    time.Duration // Scan-result cache TTL (default: 24h)

	// === Stage 2: Classifier ===
	ClassifierBackend ClassifierBackend // auto, hugot, http, fallback
	ClassifierModel   string            // HuggingFace model name for the local backend
	ClassifierURL     string            // Endpoint for the HTTP backend
	ModelDir          string            // Where downloaded ONNX models live

	// === Stage 3: Reasoning Service ===
	ReasoningProvider ReasoningProvider // Which LLM service to use, or "none"
	ReasoningAPIKey   string            // API key for cloud providers
	ReasoningModel    string            // Model identifier
	ReasoningBaseURL  string            // Custom base URL for self-hosted providers

	// === Decision Thresholds ===
	// These reproduce the escalation contract and should not normally be tuned.
	BenignShortCircuit  float64 // Benign above this confidence stops at Stage 2 (default: 0.8)
	EscalationThreshold float64 // Below this confidence Stage 2 always escalates (default: 0.5)

	// === Conversation Monitoring ===
	SessionTimeout time.Duration // Monitoring window per flagged sender (default: 10h)

	// === Rule Seeds ===
	RuleSeedPath string // Optional YAML file extending the built-in rule lists

	// === Embeddings (user-document retrieval) ===
	EmbeddingURL   string // Ollama-compatible embeddings endpoint; empty disables retrieval
	EmbeddingModel string // Embedding model name
}

// NewDefaultConfig creates a Config with sensible defaults
// All settings can be overridden via environment variables
func NewDefaultConfig() *Config {
	return &Config{
		HTTPPort: GetEnv("WARDEN_HTTP_PORT", "8080"),
		LogLevel: GetEnv("WARDEN_LOG_LEVEL", "info"),
		LogJSON:  GetEnvBool("WARDEN_LOG_JSON", false),

		DatabaseURL: GetEnv("WARDEN_DATABASE_URL", ""),
		RedisURL:    GetEnv("WARDEN_REDIS_URL", ""),
		CacheTTL:    time.Duration(GetEnvInt("WARDEN_CACHE_TTL_SECONDS", 24*3600)) * time.Second,

		ClassifierBackend: ClassifierBackend(GetEnv("WARDEN_CLASSIFIER_BACKEND", "auto")),
		ClassifierModel:   GetEnv("WARDEN_CLASSIFIER_MODEL", "cybersectony/phishing-email-detection-distilbert_v2.1"),
		ClassifierURL:     GetEnv("WARDEN_CLASSIFIER_URL", ""),
		ModelDir:          GetEnv("WARDEN_MODEL_DIR", "./models"),

		ReasoningProvider: detectReasoningProvider(),
		ReasoningAPIKey:   GetEnv("WARDEN_LLM_API_KEY", GetEnv("GROQ_API_KEY", os.Getenv("OPENROUTER_API_KEY"))),
		ReasoningModel:    GetEnv("WARDEN_LLM_MODEL", "meta-llama/llama-3.3-70b-instruct:free"),
		ReasoningBaseURL:  GetEnv("WARDEN_LLM_BASE_URL", ""),

		BenignShortCircuit:  GetEnvFloat("WARDEN_BENIGN_THRESHOLD", 0.8),
		EscalationThreshold: GetEnvFloat("WARDEN_ESCALATION_THRESHOLD", 0.5),

		SessionTimeout: time.Duration(GetEnvInt("WARDEN_SESSION_TIMEOUT_SECONDS", 10*3600)) * time.Second,

		RuleSeedPath: GetEnv("WARDEN_RULE_SEEDS", ""),

		EmbeddingURL:   GetEnv("WARDEN_EMBEDDING_URL", ""),
		EmbeddingModel: GetEnv("WARDEN_EMBEDDING_MODEL", "embeddinggemma"),
	}
}

func detectReasoningProvider() ReasoningProvider {
	// Check explicit provider setting first
	if p := os.Getenv("WARDEN_LLM_PROVIDER"); p != "" {
		return ReasoningProvider(p)
	}
	// Auto-detect based on available keys
	if os.Getenv("GROQ_API_KEY") != "" {
		return ProviderGroq
	}
	if os.Getenv("OPENROUTER_API_KEY") != "" || os.Getenv("WARDEN_LLM_API_KEY") != "" {
		return ProviderOpenRouter
	}
	// Default to Ollama (local) if no cloud keys found
	return ProviderOllama
}

// Helper functions for environment variable parsing
// These are exported for use by other packages

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// RequiredSecret defines a required environment variable for startup validation
type RequiredSecret struct {
	Name        string // Environment variable name
	Description string // Human-readable description
	Production  bool   // Required in production only (false = required always)
}

// CriticalSecrets returns the list of secrets required for the gateway to operate
func CriticalSecrets() []RequiredSecret {
	return []RequiredSecret{
		// In-memory storage loses scan history and user context on restart
		{Name: "WARDEN_DATABASE_URL", Description: "Postgres connection string", Production: true},
		{Name: "WARDEN_REDIS_URL", Description: "Redis address for cache and conversation sessions", Production: true},
	}
}

// Validate checks that all required configuration is present.
// In production mode, this will return an error if critical settings are missing.
// In development mode, it logs warnings but allows startup for local testing.
func (c *Config) Validate() error {
	env := strings.ToLower(os.Getenv("WARDEN_ENV"))
	isProduction := env == "production" || env == "prod"

	var missing []string
	var warnings []string

	for _, secret := range CriticalSecrets() {
		value := os.Getenv(secret.Name)
		if value != "" {
			continue
		}
		if secret.Production && !isProduction {
			warnings = append(warnings, secret.Name+" ("+secret.Description+")")
		} else {
			missing = append(missing, secret.Name+" ("+secret.Description+")")
		}
	}

	if c.BenignShortCircuit <= 0 || c.BenignShortCircuit > 1 {
		missing = append(missing, "WARDEN_BENIGN_THRESHOLD (must be in (0,1])")
	}
	if c.EscalationThreshold < 0 || c.EscalationThreshold > 1 {
		missing = append(missing, "WARDEN_ESCALATION_THRESHOLD (must be in [0,1])")
	}

	for _, w := range warnings {
		log.Printf("[STARTUP] Warning: missing optional setting: %s", w)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before starting the server.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}
