package httptransport

import (
	"context"
	"time"

	"cosyvoice-gateway/internal/domain/eventbus"
	"cosyvoice-gateway/internal/domain/synth"
	"cosyvoice-gateway/internal/domain/voice"
	"cosyvoice-gateway/internal/platform/config"
	platformerrors "cosyvoice-gateway/internal/platform/errors"
	"cosyvoice-gateway/internal/platform/logging"
)

// ModelID is the synthesis model this gateway fronts. The OpenAI alias is
// accepted on requests for client compatibility.
const (
	ModelID      = "cosyvoice2-0.5b"
	ModelAliasID = "tts-1"
)

// Service is the HTTP transport for the synthesis API.
type Service struct {
	config       *config.Config
	orchestrator *synth.Orchestrator
	registry     *voice.Registry
	cache        *synth.Cache
	engine       synth.EngineClient
	bus          *eventbus.Bus
	logger       *logging.Logger
	startedAt    time.Time
}

// NewService wires the transport over the synthesis domain.
func NewService(
	cfg *config.Config,
	orchestrator *synth.Orchestrator,
	registry *voice.Registry,
	cache *synth.Cache,
	engine synth.EngineClient,
	bus *eventbus.Bus,
	logger *logging.Logger,
) (*Service, error) {
	if cfg == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "http.new", "config is required")
	}
	if orchestrator == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "http.new", "orchestrator is required")
	}
	if registry == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "http.new", "voice registry is required")
	}
	if logger == nil {
		logger = logging.DefaultLogger
	}

	return &Service{
		config:       cfg,
		orchestrator: orchestrator,
		registry:     registry,
		cache:        cache,
		engine:       engine,
		bus:          bus,
		logger:       logger,
		startedAt:    time.Now(),
	}, nil
}

// Register attaches all routes. The health endpoint lives outside the /v1
// group so probes work with auth enabled.
func (s *Service) Register(ctx context.Context, router *Router) error {
	router.Engine.GET("/health", s.handleHealth)

	router.V1.POST("/audio/speech", s.handleSpeech)
	router.V1.POST("/audio/stream", s.handleStream)
	router.V1.POST("/voice/clone", s.handleCloneVoice)
	router.V1.DELETE("/voice/:name", s.handleDeleteVoice)
	router.V1.GET("/voices", s.handleListVoices)
	router.V1.GET("/models", s.handleModels)

	s.logger.Info("[HTTP] synthesis API registered (model %s)", ModelID)
	return nil
}
