package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Engine modes
const (
	EngineModeGRPC = "grpc"
	EngineModeExec = "exec"
	EngineModeMock = "mock"
)

// RequiredModelFiles must be present in MODEL_DIR before a real engine starts
var RequiredModelFiles = []string{
	"bpe.model",
	"gpt.pth",
	"config.yaml",
	"s2mel.pth",
	"wav2vec2bert_stats.pt",
}

// Config holds all configuration for the IndexTTS gateway
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"9880"`

	// Public base URL used when handing artifact links to interactive clients.
	// Optional; if unset, links are relative (/artifacts/<id>.wav).
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:""`

	// Filesystem layout
	VoicesDir    string `envconfig:"VOICES_DIR" default:"voices"`
	OutputDir    string `envconfig:"OUTPUT_DIR" default:"outputs"`
	ModelDir     string `envconfig:"MODEL_DIR" default:""`
	ExamplesFile string `envconfig:"EXAMPLES_FILE" default:"examples/cases.jsonl"`

	// Synthesis engine configuration
	EngineMode        string `envconfig:"ENGINE_MODE" default:"grpc"`      // grpc, exec, mock
	EngineURL         string `envconfig:"ENGINE_URL" default:"localhost:50051"`
	EngineTLSEnabled  bool   `envconfig:"ENGINE_TLS_ENABLED" default:"false"`
	EngineDialTimeout int    `envconfig:"ENGINE_DIAL_TIMEOUT" default:"30"` // seconds
	EngineCommand     string `envconfig:"ENGINE_COMMAND" default:""`       // exec mode only
	MockSampleRate    int    `envconfig:"MOCK_SAMPLE_RATE" default:"22050"`

	// Request defaults
	EmotionWeightDefault  float64 `envconfig:"EMOTION_WEIGHT_DEFAULT" default:"0.8"`   // HTTP emotion weight
	DefaultSentenceTokens int     `envconfig:"DEFAULT_SENTENCE_TOKENS" default:"120"` // max tokens per sentence
	QueueDepth            int     `envconfig:"QUEUE_DEPTH" default:"0"`               // 0 = unbounded

	// Artifact ledger
	LedgerPath             string `envconfig:"LEDGER_PATH" default:"outputs/ledger.db"`
	ArtifactRetentionHours int    `envconfig:"ARTIFACT_RETENTION_HOURS" default:"0"` // 0 = keep forever

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Engine dial attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Message bus front end
	BusEnabled      bool   `envconfig:"BUS_ENABLED" default:"false"`
	BusURL          string `envconfig:"BUS_URL" default:"nats://localhost:4222"`
	BusSubject      string `envconfig:"BUS_SUBJECT" default:"indextts.synthesize"`
	BusObjectBucket string `envconfig:"BUS_OBJECT_BUCKET" default:""`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT" default:""`       // Tracing disabled when empty
	OTLPInsecure   bool   `envconfig:"OTLP_INSECURE" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	switch c.EngineMode {
	case EngineModeGRPC:
		if c.EngineURL == "" {
			return fmt.Errorf("ENGINE_URL is required for engine mode %q", c.EngineMode)
		}
	case EngineModeExec:
		if c.EngineCommand == "" {
			return fmt.Errorf("ENGINE_COMMAND is required for engine mode %q", c.EngineMode)
		}
	case EngineModeMock:
	default:
		return fmt.Errorf("unknown ENGINE_MODE %q (want grpc, exec or mock)", c.EngineMode)
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("QUEUE_DEPTH must be >= 0, got %d", c.QueueDepth)
	}
	if c.DefaultSentenceTokens <= 0 {
		return fmt.Errorf("DEFAULT_SENTENCE_TOKENS must be > 0, got %d", c.DefaultSentenceTokens)
	}
	if c.EmotionWeightDefault < 0 || c.EmotionWeightDefault > 1 {
		return fmt.Errorf("EMOTION_WEIGHT_DEFAULT must be within [0, 1], got %v", c.EmotionWeightDefault)
	}
	return nil
}

// CheckModelDir verifies that the model checkpoints exist. It is a no-op for
// the mock engine or when MODEL_DIR is unset.
func (c *Config) CheckModelDir() error {
	if c.EngineMode == EngineModeMock || c.ModelDir == "" {
		return nil
	}
	if _, err := os.Stat(c.ModelDir); err != nil {
		return fmt.Errorf("model directory %s does not exist, download the model first", c.ModelDir)
	}
	for _, name := range RequiredModelFiles {
		path := filepath.Join(c.ModelDir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("required file %s does not exist", path)
		}
	}
	return nil
}

// EnsureDirs creates the voices, emotion and output directories
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.VoicesDir, filepath.Join(c.VoicesDir, "emotion"), c.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
