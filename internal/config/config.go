package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type AuthConfig struct {
	Enabled   bool     `yaml:"enabled"`
	APIKeys   []string `yaml:"api_keys"`
	AdminKeys []string `yaml:"admin_keys"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type SessionConfig struct {
	TTLSeconds          int `yaml:"ttl_seconds"`
	MaxAudioSeconds     int `yaml:"max_audio_seconds"`
	RequestTimeoutSec   int `yaml:"request_timeout_seconds"`
	StopTimeoutSec      int `yaml:"stop_timeout_seconds"`
	ReapIntervalSeconds int `yaml:"reap_interval_seconds"`
}

type SegmenterConfig struct {
	Strategy            string  `yaml:"strategy"`
	ChunkDurationSec    float64 `yaml:"chunk_duration_seconds"`
	OverlapSec          float64 `yaml:"overlap_seconds"`
	SilenceThreshold    float64 `yaml:"silence_threshold"`
	MinSilenceSec       float64 `yaml:"min_silence_seconds"`
	PadMS               int     `yaml:"pad_ms"`
	MaxChunkDurationSec float64 `yaml:"max_chunk_duration_seconds"`
	MinSegSec           float64 `yaml:"min_seg_seconds"`
	MaxSegSec           float64 `yaml:"max_seg_seconds"`
}

type PipelineConfig struct {
	MergeStrategy string `yaml:"merge_strategy"`
	Concurrency   int    `yaml:"concurrency"`
}

type RecognizerConfig struct {
	Mode         string `yaml:"mode"` // mock, exec
	Command      string `yaml:"command"`
	ModelPath    string `yaml:"model_path"`
	Language     string `yaml:"language"`
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	Reentrant    bool   `yaml:"reentrant"`
	Parallelism  int    `yaml:"parallelism"`
	WarmupOnBoot bool   `yaml:"warmup_on_boot"`
	TmpDir       string `yaml:"tmp_dir"`
}

type EnhancerConfig struct {
	Provider    string  `yaml:"provider"` // openai, gemini, ollama, none
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSec  int     `yaml:"timeout_seconds"`
}

type PostProcessConfig struct {
	DefaultMode    string   `yaml:"default_mode"`
	Fillers        []string `yaml:"fillers"`
	DictionaryPath string   `yaml:"dictionary_path"`
}

type JobsConfig struct {
	MaxConcurrent   int `yaml:"max_concurrent"`
	TTLHours        int `yaml:"ttl_hours"`
	KeepCompleted   int `yaml:"keep_completed"`
	ReapIntervalSec int `yaml:"reap_interval_seconds"`
}

type RateLimitConfig struct {
	Enabled bool           `yaml:"enabled"`
	Quotas  map[string]int `yaml:"quotas"` // class -> requests per minute
}

type Config struct {
	ServiceName string            `yaml:"service_name"`
	Environment string            `yaml:"environment"`
	RuntimeDir  string            `yaml:"runtime_dir"`
	HTTP        HTTPConfig        `yaml:"http"`
	Auth        AuthConfig        `yaml:"auth"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Session     SessionConfig     `yaml:"session"`
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Recognizer  RecognizerConfig  `yaml:"recognizer"`
	Enhancer    EnhancerConfig    `yaml:"enhancer"`
	PostProcess PostProcessConfig `yaml:"postprocess"`
	Jobs        JobsConfig        `yaml:"jobs"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// DefaultQuotas maps endpoint classes to per-minute request budgets.
func DefaultQuotas() map[string]int {
	return map[string]int{
		"health":           1000,
		"session-control":  20,
		"session-audio":    300,
		"session-status":   60,
		"transcribe":       10,
		"upload":           10,
		"upload-long":      5,
		"batch-transcribe": 3,
		"text":             30,
		"config":           60,
		"jobs-submit":      10,
		"jobs-poll":        300,
		"jobs-control":     60,
		"dictionary":       60,
	}
}

func Default() Config {
	return Config{
		ServiceName: "typeless-core",
		Environment: "development",
		RuntimeDir:  "./runtime",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8765,
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Session: SessionConfig{
			TTLSeconds:          600,
			MaxAudioSeconds:     600,
			RequestTimeoutSec:   30,
			StopTimeoutSec:      300,
			ReapIntervalSeconds: 30,
		},
		Segmenter: SegmenterConfig{
			Strategy:            "hybrid",
			ChunkDurationSec:    30,
			OverlapSec:          2,
			SilenceThreshold:    0.01,
			MinSilenceSec:       0.5,
			PadMS:               100,
			MaxChunkDurationSec: 20,
			MinSegSec:           8,
			MaxSegSec:           20,
		},
		Pipeline: PipelineConfig{
			MergeStrategy: "simple",
			Concurrency:   1,
		},
		Recognizer: RecognizerConfig{
			Mode:         "mock",
			SampleRate:   16000,
			Channels:     1,
			Reentrant:    false,
			Parallelism:  2,
			WarmupOnBoot: true,
		},
		Enhancer: EnhancerConfig{
			Provider:    "none",
			Endpoint:    "http://localhost:11434",
			MaxTokens:   1000,
			Temperature: 0.3,
			TimeoutSec:  30,
		},
		PostProcess: PostProcessConfig{
			DefaultMode: "standard",
		},
		Jobs: JobsConfig{
			MaxConcurrent:   3,
			TTLHours:        24,
			KeepCompleted:   100,
			ReapIntervalSec: 3600,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Quotas:  DefaultQuotas(),
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if cfg.RateLimit.Quotas == nil {
		cfg.RateLimit.Quotas = DefaultQuotas()
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "TYPELESS_SERVICE_NAME")
	overrideString(&cfg.Environment, "TYPELESS_ENVIRONMENT")
	overrideString(&cfg.RuntimeDir, "TYPELESS_RUNTIME_DIR")
	overrideString(&cfg.HTTP.Bind, "TYPELESS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "TYPELESS_HTTP_PORT")
	overrideBool(&cfg.Auth.Enabled, "TYPELESS_AUTH_ENABLED")
	overrideStringSlice(&cfg.Auth.APIKeys, "TYPELESS_API_KEYS")
	overrideStringSlice(&cfg.Auth.AdminKeys, "TYPELESS_ADMIN_KEYS")
	overrideString(&cfg.Telemetry.LogLevel, "TYPELESS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TYPELESS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TYPELESS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "TYPELESS_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "TYPELESS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "TYPELESS_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "TYPELESS_BUS_SERVERS")
	overrideInt(&cfg.Bus.ConnectTimeout, "TYPELESS_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Session.TTLSeconds, "TYPELESS_SESSION_TTL_SECONDS")
	overrideInt(&cfg.Session.MaxAudioSeconds, "TYPELESS_SESSION_MAX_AUDIO_SECONDS")
	overrideInt(&cfg.Session.RequestTimeoutSec, "TYPELESS_SESSION_REQUEST_TIMEOUT_SECONDS")
	overrideInt(&cfg.Session.StopTimeoutSec, "TYPELESS_SESSION_STOP_TIMEOUT_SECONDS")
	overrideInt(&cfg.Session.ReapIntervalSeconds, "TYPELESS_SESSION_REAP_INTERVAL_SECONDS")
	overrideString(&cfg.Segmenter.Strategy, "TYPELESS_SEGMENTER_STRATEGY")
	overrideFloat(&cfg.Segmenter.ChunkDurationSec, "TYPELESS_SEGMENTER_CHUNK_DURATION_SECONDS")
	overrideFloat(&cfg.Segmenter.OverlapSec, "TYPELESS_SEGMENTER_OVERLAP_SECONDS")
	overrideFloat(&cfg.Segmenter.SilenceThreshold, "TYPELESS_SEGMENTER_SILENCE_THRESHOLD")
	overrideFloat(&cfg.Segmenter.MinSilenceSec, "TYPELESS_SEGMENTER_MIN_SILENCE_SECONDS")
	overrideInt(&cfg.Segmenter.PadMS, "TYPELESS_SEGMENTER_PAD_MS")
	overrideFloat(&cfg.Segmenter.MaxChunkDurationSec, "TYPELESS_SEGMENTER_MAX_CHUNK_DURATION_SECONDS")
	overrideString(&cfg.Pipeline.MergeStrategy, "TYPELESS_PIPELINE_MERGE_STRATEGY")
	overrideInt(&cfg.Pipeline.Concurrency, "TYPELESS_PIPELINE_CONCURRENCY")
	overrideString(&cfg.Recognizer.Mode, "TYPELESS_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "TYPELESS_RECOGNIZER_COMMAND")
	overrideString(&cfg.Recognizer.ModelPath, "TYPELESS_RECOGNIZER_MODEL_PATH")
	overrideString(&cfg.Recognizer.Language, "TYPELESS_RECOGNIZER_LANGUAGE")
	overrideInt(&cfg.Recognizer.SampleRate, "TYPELESS_RECOGNIZER_SAMPLE_RATE")
	overrideInt(&cfg.Recognizer.Channels, "TYPELESS_RECOGNIZER_CHANNELS")
	overrideBool(&cfg.Recognizer.Reentrant, "TYPELESS_RECOGNIZER_REENTRANT")
	overrideInt(&cfg.Recognizer.Parallelism, "TYPELESS_RECOGNIZER_PARALLELISM")
	overrideBool(&cfg.Recognizer.WarmupOnBoot, "TYPELESS_RECOGNIZER_WARMUP_ON_BOOT")
	overrideString(&cfg.Enhancer.Provider, "TYPELESS_ENHANCER_PROVIDER")
	overrideString(&cfg.Enhancer.Endpoint, "TYPELESS_ENHANCER_ENDPOINT")
	overrideString(&cfg.Enhancer.APIKey, "TYPELESS_ENHANCER_API_KEY")
	overrideString(&cfg.Enhancer.Model, "TYPELESS_ENHANCER_MODEL")
	overrideInt(&cfg.Enhancer.MaxTokens, "TYPELESS_ENHANCER_MAX_TOKENS")
	overrideFloat(&cfg.Enhancer.Temperature, "TYPELESS_ENHANCER_TEMPERATURE")
	overrideInt(&cfg.Enhancer.TimeoutSec, "TYPELESS_ENHANCER_TIMEOUT_SECONDS")
	overrideString(&cfg.PostProcess.DefaultMode, "TYPELESS_POSTPROCESS_DEFAULT_MODE")
	overrideString(&cfg.PostProcess.DictionaryPath, "TYPELESS_POSTPROCESS_DICTIONARY_PATH")
	overrideInt(&cfg.Jobs.MaxConcurrent, "TYPELESS_JOBS_MAX_CONCURRENT")
	overrideInt(&cfg.Jobs.TTLHours, "TYPELESS_JOBS_TTL_HOURS")
	overrideInt(&cfg.Jobs.KeepCompleted, "TYPELESS_JOBS_KEEP_COMPLETED")
	overrideInt(&cfg.Jobs.ReapIntervalSec, "TYPELESS_JOBS_REAP_INTERVAL_SECONDS")
	overrideBool(&cfg.RateLimit.Enabled, "TYPELESS_RATE_LIMIT_ENABLED")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		return errors.New("auth.api_keys must not be empty when auth is enabled")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.Session.TTLSeconds <= 0 {
		return errors.New("session.ttl_seconds must be positive")
	}
	if cfg.Session.MaxAudioSeconds <= 0 {
		return errors.New("session.max_audio_seconds must be positive")
	}
	switch cfg.Segmenter.Strategy {
	case "fixed", "vad", "hybrid":
	default:
		return errors.New("segmenter.strategy must be one of fixed|vad|hybrid")
	}
	if cfg.Segmenter.ChunkDurationSec <= 0 {
		return errors.New("segmenter.chunk_duration_seconds must be positive")
	}
	if cfg.Segmenter.OverlapSec < 0 || cfg.Segmenter.OverlapSec >= cfg.Segmenter.ChunkDurationSec {
		return errors.New("segmenter.overlap_seconds must be in [0, chunk_duration)")
	}
	if cfg.Segmenter.MaxChunkDurationSec <= 0 {
		return errors.New("segmenter.max_chunk_duration_seconds must be positive")
	}
	switch cfg.Pipeline.MergeStrategy {
	case "simple", "overlap", "smart":
	default:
		return errors.New("pipeline.merge_strategy must be one of simple|overlap|smart")
	}
	if cfg.Pipeline.Concurrency <= 0 {
		return errors.New("pipeline.concurrency must be >= 1")
	}
	switch cfg.Recognizer.Mode {
	case "mock", "exec":
	default:
		return errors.New("recognizer.mode must be one of mock|exec")
	}
	if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Recognizer.SampleRate <= 0 {
		return errors.New("recognizer.sample_rate must be positive")
	}
	if cfg.Recognizer.Channels <= 0 {
		return errors.New("recognizer.channels must be positive")
	}
	switch cfg.Enhancer.Provider {
	case "openai", "gemini", "ollama", "none":
	default:
		return errors.New("enhancer.provider must be one of openai|gemini|ollama|none")
	}
	if cfg.Enhancer.Provider == "ollama" && cfg.Enhancer.Endpoint == "" {
		return errors.New("enhancer.endpoint must be set when provider=ollama")
	}
	switch cfg.PostProcess.DefaultMode {
	case "none", "basic", "standard", "advanced":
	default:
		return errors.New("postprocess.default_mode must be one of none|basic|standard|advanced")
	}
	if cfg.Jobs.MaxConcurrent <= 0 {
		return errors.New("jobs.max_concurrent must be >= 1")
	}
	if cfg.Jobs.TTLHours < 0 {
		return errors.New("jobs.ttl_hours must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	for class, quota := range cfg.RateLimit.Quotas {
		if quota <= 0 {
			return fmt.Errorf("rate_limit.quotas[%s] must be positive", class)
		}
	}
	return nil
}
