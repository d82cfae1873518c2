package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full configuration surface. Every tunable the pipeline
// consumes is injected from here; nothing beyond the documented defaults
// is hardcoded downstream.
type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8090"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthToken    string        `env:"AUTH_TOKEN"`
	CORSOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","` // empty allows any origin
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`

	DataDir   string `env:"DATA_DIR" envDefault:"./data"`
	ImportDir string `env:"IMPORT_DIR"` // empty disables the import watcher
	HistoryDB string `env:"HISTORY_DB" envDefault:"./data/whisperdog.db"`

	// Capture format
	SampleRate int `env:"SAMPLE_RATE" envDefault:"16000"`
	Channels   int `env:"CHANNELS" envDefault:"1"`
	BitDepth   int `env:"BIT_DEPTH" envDefault:"16"`

	// Activity classifier
	ClassifyIntervalMs int64   `env:"CLASSIFY_INTERVAL_MS" envDefault:"100"`
	ActivityThreshold  float64 `env:"ACTIVITY_THRESHOLD" envDefault:"0.005"`
	DominanceRatio     float64 `env:"DOMINANCE_RATIO" envDefault:"3.0"`

	// Silence editor
	MicSilenceThreshold float64 `env:"MIC_SILENCE_THRESHOLD" envDefault:"0.01"`
	// 0 defaults to half the mic threshold: loopback audio is digitally
	// mixed and carries a lower noise floor than a live microphone.
	SystemSilenceThreshold float64 `env:"SYSTEM_SILENCE_THRESHOLD" envDefault:"0"`
	MinSilenceMs           int64   `env:"MIN_SILENCE_MS" envDefault:"500"`
	SkipSilenceEdit        bool    `env:"SKIP_SILENCE_EDIT" envDefault:"false"`

	// Transcription
	Provider       string        `env:"STT_PROVIDER" envDefault:"whisper"` // whisper | elevenlabs
	WhisperURL     string        `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel   string        `env:"WHISPER_MODEL" envDefault:"Systran/faster-whisper-small"`
	STTTimeout     time.Duration `env:"STT_TIMEOUT" envDefault:"120s"`
	ElevenAPIKey   string        `env:"ELEVENLABS_API_KEY"`
	ElevenModel    string        `env:"ELEVENLABS_MODEL" envDefault:"scribe_v1"`
	Language       string        `env:"STT_LANGUAGE" envDefault:"en"`
	Temperature    float64       `env:"STT_TEMPERATURE" envDefault:"0"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	HardMaxBytes   int           `env:"HARD_MAX_BYTES" envDefault:"26214400"` // 25 MB
	ChunkThreshold int           `env:"CHUNK_THRESHOLD_BYTES" envDefault:"20971520"`
	ChunkSeconds   int           `env:"CHUNK_SECONDS" envDefault:"120"`

	// Optional S3-compatible archive
	S3 S3Config `envPrefix:"S3_"`
}

// S3Config configures the optional object-store archive. Archiving is
// enabled when Bucket is set.
type S3Config struct {
	Bucket        string        `env:"BUCKET"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	Endpoint      string        `env:"ENDPOINT"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	Prefix        string        `env:"PREFIX" envDefault:"recordings"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile   string
	HTTPAddr  string
	LogLevel  string
	DataDir   string
	ImportDir string
	Provider  string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}
	if overrides.ImportDir != "" {
		cfg.ImportDir = overrides.ImportDir
	}
	if overrides.Provider != "" {
		cfg.Provider = overrides.Provider
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "whisper", "elevenlabs":
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q", c.Provider)
	}
	if c.Provider == "elevenlabs" && c.ElevenAPIKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY required for the elevenlabs provider")
	}
	if c.ChunkThreshold > c.HardMaxBytes {
		return fmt.Errorf("CHUNK_THRESHOLD_BYTES (%d) exceeds HARD_MAX_BYTES (%d)", c.ChunkThreshold, c.HardMaxBytes)
	}
	return nil
}
