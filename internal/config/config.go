package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full server configuration. Values are resolved from
// flags, a config file, and SPEACHES_* environment variables.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	// APIKey, when non-empty, requires `Authorization: Bearer <key>`
	// on every endpoint except /health.
	APIKey string `mapstructure:"api_key"`

	// ModelIdleTimeout is the idle TTL in seconds applied to all model
	// families unless overridden. 0 unloads on last release, negative
	// never unloads.
	ModelIdleTimeout int `mapstructure:"model_idle_timeout"`

	// MaxModels is an advisory cap on concurrently resident models
	// per manager; 0 means unlimited.
	MaxModels int `mapstructure:"max_models"`

	ModelAliasesPath string `mapstructure:"model_aliases_path"`

	Hub     HubConfig     `mapstructure:"hub"`
	ORT     ORTConfig     `mapstructure:"ort"`
	Whisper FamilyConfig  `mapstructure:"whisper"`
	Kokoro  FamilyConfig  `mapstructure:"kokoro"`
	Piper   FamilyConfig  `mapstructure:"piper"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Server  RuntimeLimits `mapstructure:"server"`
}

// HubConfig locates the local model artifact cache.
type HubConfig struct {
	CachePath string `mapstructure:"cache_path"`
	Offline   bool   `mapstructure:"offline"`
}

// ORTConfig controls ONNX Runtime placement for the TTS executors.
type ORTConfig struct {
	LibraryPath string `mapstructure:"library_path"`
	APIVersion  uint32 `mapstructure:"api_version"`
	Threads     int    `mapstructure:"threads"`
	// ProviderPriority is the ordered hardware backend preference,
	// e.g. ["CUDAExecutionProvider", "CPUExecutionProvider"].
	ProviderPriority []string `mapstructure:"provider_priority"`
	ProviderExclude  []string `mapstructure:"provider_exclude"`
}

// FamilyConfig carries per-model-family overrides. TTL falls back to
// ModelIdleTimeout when left at the sentinel.
type FamilyConfig struct {
	TTL int `mapstructure:"ttl"`
}

// ChatConfig configures the upstream chat-completion API used by
// /v1/chat/completions.
type ChatConfig struct {
	CompletionBaseURL  string `mapstructure:"completion_base_url"`
	CompletionAPIKey   string `mapstructure:"completion_api_key"`
	TranscriptionModel string `mapstructure:"transcription_model"`
	SpeechModel        string `mapstructure:"speech_model"`
	SpeechVoice        string `mapstructure:"speech_voice"`
}

// RuntimeLimits bounds request handling.
type RuntimeLimits struct {
	MaxUploadBytes  int64 `mapstructure:"max_upload_bytes"`
	ShutdownTimeout int   `mapstructure:"shutdown_timeout"`
}

// TTLUnset marks a family TTL that should fall back to the global
// ModelIdleTimeout. Negative TTLs are meaningful (never unload), so a
// large sentinel is used instead of -1.
const TTLUnset = -1 << 30

func DefaultConfig() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             8000,
		LogLevel:         "info",
		ModelIdleTimeout: 300,
		MaxModels:        0,
		ModelAliasesPath: "model_aliases.json",
		Hub: HubConfig{
			CachePath: defaultHubCache(),
		},
		ORT: ORTConfig{
			APIVersion:       23,
			Threads:          4,
			ProviderPriority: []string{"CPUExecutionProvider"},
		},
		Whisper: FamilyConfig{TTL: TTLUnset},
		Kokoro:  FamilyConfig{TTL: TTLUnset},
		Piper:   FamilyConfig{TTL: TTLUnset},
		Chat: ChatConfig{
			TranscriptionModel: "Systran/faster-whisper-small",
			SpeechModel:        "hexgrad/Kokoro-82M",
			SpeechVoice:        "af",
		},
		Server: RuntimeLimits{
			MaxUploadBytes:  100 << 20,
			ShutdownTimeout: 30,
		},
	}
}

func defaultHubCache() string {
	if env := os.Getenv("HF_HUB_CACHE"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "hub"
	}
	return filepath.Join(home, ".cache", "huggingface", "hub")
}

// FamilyTTL resolves a family override against the global idle timeout.
func (c Config) FamilyTTL(f FamilyConfig) int {
	if f.TTL == TTLUnset {
		return c.ModelIdleTimeout
	}
	return f.TTL
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("host", defaults.Host, "HTTP listen host")
	fs.Int("port", defaults.Port, "HTTP listen port")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("api-key", defaults.APIKey, "Bearer token required on all endpoints except /health")
	fs.Int("model-idle-timeout", defaults.ModelIdleTimeout, "Seconds of idleness before a model unloads (0 immediate, negative never)")
	fs.Int("max-models", defaults.MaxModels, "Advisory cap on concurrently loaded models (0 unlimited)")
	fs.String("model-aliases-path", defaults.ModelAliasesPath, "Path to the model alias JSON file")
	fs.String("hub-cache-path", defaults.Hub.CachePath, "Local model artifact cache directory")
	fs.Bool("hub-offline", defaults.Hub.Offline, "Disable network listing and downloading of remote models")
	fs.String("ort-library-path", defaults.ORT.LibraryPath, "Path to the ONNX Runtime shared library")
	fs.Int("ort-threads", defaults.ORT.Threads, "ONNX Runtime intra-op thread count")
	fs.StringSlice("ort-provider-priority", defaults.ORT.ProviderPriority, "Ordered ONNX Runtime execution provider preference")
	fs.StringSlice("ort-provider-exclude", defaults.ORT.ProviderExclude, "ONNX Runtime execution providers to never use")
	fs.String("chat-completion-base-url", defaults.Chat.CompletionBaseURL, "Upstream chat-completion API base URL")
	fs.String("chat-completion-api-key", defaults.Chat.CompletionAPIKey, "Upstream chat-completion API key")
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("SPEACHES")
	replacer := strings.NewReplacer("-", "_", ".", "_")
	v.SetEnvKeyReplacer(replacer)
	// The hub keys also honour the unprefixed HuggingFace variables so
	// existing caches are picked up.
	if err := v.BindEnv("hub.cache_path", "HF_HUB_CACHE", "SPEACHES_HUB_CACHE_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind hub cache env: %w", err)
	}
	if err := v.BindEnv("hub.offline", "HF_HUB_OFFLINE", "SPEACHES_HUB_OFFLINE"); err != nil {
		return Config{}, fmt.Errorf("bind hub offline env: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("speaches")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("host", c.Host)
	v.SetDefault("port", c.Port)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("api_key", c.APIKey)
	v.SetDefault("model_idle_timeout", c.ModelIdleTimeout)
	v.SetDefault("max_models", c.MaxModels)
	v.SetDefault("model_aliases_path", c.ModelAliasesPath)
	v.SetDefault("hub.cache_path", c.Hub.CachePath)
	v.SetDefault("hub.offline", c.Hub.Offline)
	v.SetDefault("ort.library_path", c.ORT.LibraryPath)
	v.SetDefault("ort.api_version", c.ORT.APIVersion)
	v.SetDefault("ort.threads", c.ORT.Threads)
	v.SetDefault("ort.provider_priority", c.ORT.ProviderPriority)
	v.SetDefault("ort.provider_exclude", c.ORT.ProviderExclude)
	v.SetDefault("whisper.ttl", c.Whisper.TTL)
	v.SetDefault("kokoro.ttl", c.Kokoro.TTL)
	v.SetDefault("piper.ttl", c.Piper.TTL)
	v.SetDefault("chat.completion_base_url", c.Chat.CompletionBaseURL)
	v.SetDefault("chat.completion_api_key", c.Chat.CompletionAPIKey)
	v.SetDefault("chat.transcription_model", c.Chat.TranscriptionModel)
	v.SetDefault("chat.speech_model", c.Chat.SpeechModel)
	v.SetDefault("chat.speech_voice", c.Chat.SpeechVoice)
	v.SetDefault("server.max_upload_bytes", c.Server.MaxUploadBytes)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("log_level", "log-level")
	v.RegisterAlias("api_key", "api-key")
	v.RegisterAlias("model_idle_timeout", "model-idle-timeout")
	v.RegisterAlias("max_models", "max-models")
	v.RegisterAlias("model_aliases_path", "model-aliases-path")
	v.RegisterAlias("hub.cache_path", "hub-cache-path")
	v.RegisterAlias("hub.offline", "hub-offline")
	v.RegisterAlias("ort.library_path", "ort-library-path")
	v.RegisterAlias("ort.threads", "ort-threads")
	v.RegisterAlias("ort.provider_priority", "ort-provider-priority")
	v.RegisterAlias("ort.provider_exclude", "ort-provider-exclude")
	v.RegisterAlias("chat.completion_base_url", "chat-completion-base-url")
	v.RegisterAlias("chat.completion_api_key", "chat-completion-api-key")
}
