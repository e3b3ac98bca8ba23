package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/example/speaches/internal/audio"
	"github.com/example/speaches/internal/chat"
	"github.com/example/speaches/internal/config"
	"github.com/example/speaches/internal/executor"
	"github.com/example/speaches/internal/executor/kokoro"
	"github.com/example/speaches/internal/executor/piper"
	"github.com/example/speaches/internal/executor/whisper"
	"github.com/example/speaches/internal/manager"
	"github.com/example/speaches/internal/registry"
)

// handler carries the shared state behind every endpoint: the model
// registry, one session manager per executor family, the transcoder,
// and the chat proxy.
type handler struct {
	cfg    config.Config
	logger *slog.Logger

	registry   *registry.Registry
	transcoder *audio.FFmpegTranscoder

	whisper *manager.Manager[*whisper.Session]
	kokoro  *manager.Manager[*kokoro.Session]
	piper   *manager.Manager[*piper.Session]

	chat *chat.Service
}

type HandlerOption func(*handler)

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *handler) { h.logger = logger }
}

func WithRegistry(reg *registry.Registry) HandlerOption {
	return func(h *handler) { h.registry = reg }
}

// NewHandler wires the route table. The registry may be injected for
// tests; otherwise it is built from the config.
func NewHandler(cfg config.Config, opts ...HandlerOption) (http.Handler, error) {
	h := &handler{
		cfg:        cfg,
		logger:     slog.Default(),
		transcoder: &audio.FFmpegTranscoder{},
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.registry == nil {
		reg, err := registry.New(registry.Options{
			CachePath: cfg.Hub.CachePath,
			AliasPath: cfg.ModelAliasesPath,
			Offline:   cfg.Hub.Offline,
			Logger:    h.logger,
		})
		if err != nil {
			return nil, err
		}
		h.registry = reg
	}

	ortOpts := executor.ORTOptions{
		LibraryPath: cfg.ORT.LibraryPath,
		APIVersion:  cfg.ORT.APIVersion,
		Providers:   executor.ResolveProviders(cfg.ORT.ProviderPriority, cfg.ORT.ProviderExclude),
		Logger:      h.logger,
	}

	h.whisper = manager.New(manager.Options[*whisper.Session]{
		Load: func(ctx context.Context, modelID string) (*whisper.Session, error) {
			art, err := h.registry.ResolveASR(modelID)
			if err != nil {
				return nil, err
			}
			return whisper.Load(ctx, art.WeightsPath, h.logger)
		},
		Dispose:   func(s *whisper.Session) { _ = s.Close() },
		TTL:       familyTTL(cfg, cfg.Whisper),
		MaxModels: cfg.MaxModels,
		Logger:    h.logger,
	})
	h.kokoro = manager.New(manager.Options[*kokoro.Session]{
		Load: func(ctx context.Context, modelID string) (*kokoro.Session, error) {
			art, err := h.registry.ResolveVoicePack(modelID)
			if err != nil {
				return nil, err
			}
			return kokoro.Load(ctx, art, ortOpts)
		},
		Dispose:   func(s *kokoro.Session) { s.Close() },
		TTL:       familyTTL(cfg, cfg.Kokoro),
		MaxModels: cfg.MaxModels,
		Logger:    h.logger,
	})
	h.piper = manager.New(manager.Options[*piper.Session]{
		Load: func(ctx context.Context, modelID string) (*piper.Session, error) {
			art, err := h.registry.ResolveSingleVoice(modelID)
			if err != nil {
				return nil, err
			}
			return piper.Load(ctx, art, ortOpts)
		},
		Dispose:   func(s *piper.Session) { s.Close() },
		TTL:       familyTTL(cfg, cfg.Piper),
		MaxModels: cfg.MaxModels,
		Logger:    h.logger,
	})

	var clientOpts []option.RequestOption
	if cfg.Chat.CompletionBaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.Chat.CompletionBaseURL))
	}
	if cfg.Chat.CompletionAPIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.Chat.CompletionAPIKey))
	}
	h.chat = chat.NewService(
		oai.NewClient(clientOpts...),
		chat.NewTranscriptCache(),
		h.transcribeForChat,
		h.synthesizeForChat,
		h.logger,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)

	mux.HandleFunc("GET /v1/models", h.handleListModels)
	mux.HandleFunc("GET /v1/models/{model...}", h.handleGetModel)
	mux.HandleFunc("POST /v1/models/{model...}", h.handleDownloadModel)
	mux.HandleFunc("DELETE /v1/models/{model...}", h.handleRemoveModel)

	mux.HandleFunc("POST /v1/audio/speech", h.handleSpeech)
	mux.HandleFunc("POST /v1/audio/transcriptions", h.handleTranscription)
	mux.HandleFunc("POST /v1/audio/translations", h.handleTranslation)

	mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)

	mux.HandleFunc("GET /api/ps", h.handleListLoaded)
	mux.HandleFunc("POST /api/ps/{model...}", h.handleLoadModel)
	mux.HandleFunc("DELETE /api/ps/{model...}", h.handleUnloadModel)

	var root http.Handler = mux
	root = withAuth(root, cfg.APIKey)
	root = withLogging(root, h.logger)
	root = withRecovery(root, h.logger)
	return root, nil
}

func familyTTL(cfg config.Config, f config.FamilyConfig) time.Duration {
	return time.Duration(cfg.FamilyTTL(f)) * time.Second
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
