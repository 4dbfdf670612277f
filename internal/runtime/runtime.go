// Package runtime assembles the daemon: telemetry, the embedded broker, and
// every subsystem from the history store up to the WebSocket gateway, started
// in dependency order and unwound in reverse.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parlolabs/parlo-core/internal/backend"
	"github.com/parlolabs/parlo-core/internal/bus"
	"github.com/parlolabs/parlo-core/internal/capability"
	"github.com/parlolabs/parlo-core/internal/capture"
	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/gateway"
	"github.com/parlolabs/parlo-core/internal/geo"
	"github.com/parlolabs/parlo-core/internal/history"
	"github.com/parlolabs/parlo-core/internal/listen"
	"github.com/parlolabs/parlo-core/internal/natsserver"
	"github.com/parlolabs/parlo-core/internal/protocol"
	"github.com/parlolabs/parlo-core/internal/session"
	"github.com/parlolabs/parlo-core/internal/situation"
	"github.com/parlolabs/parlo-core/internal/speak"
	"github.com/parlolabs/parlo-core/internal/suggest"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error

	embedded  *natsserver.EmbeddedServer
	bus       *bus.Client
	store     *history.Store
	backend   *backend.Client
	situation *situation.Service
	speak     *speak.Service
	listen    *listen.Service
	capture   *capture.Service
	suggest   *suggest.Service
	session   *session.Coordinator
	registry  *capability.Registry
	gateway   *gateway.Service

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the daemon up and blocks until ctx is canceled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startServices(ctx); err != nil {
		r.stopServices()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/statusz", r.handleStatus)
	if r.cfg.Gateway.Enabled {
		mux.Handle(r.cfg.Gateway.Path, r.gateway.Handler())
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.stopServices()
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// startServices constructs and starts every subsystem in dependency order.
func (r *Runtime) startServices(ctx context.Context) error {
	cfg := r.cfg

	if cfg.Bus.Embedded {
		embedded, err := natsserver.Start(cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		r.embedded = embedded
		cfg.Bus.Servers = []string{embedded.ClientURL()}
	}

	busClient, err := bus.Connect(ctx, cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.bus = busClient

	store, err := history.Open(ctx, cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	r.store = store

	if cfg.Backend.Enabled {
		r.backend = backend.NewClient(cfg.Backend, r.logger)
	}

	var geocoder situation.Geocoder
	var source situation.LocationSource
	if cfg.Situation.Enabled && cfg.Situation.Location.Source != "none" {
		geocoder = geo.NewClient(cfg.Situation.Geocoder, r.logger)
		source, err = situation.NewLocationSource(cfg.Situation.Location)
		if err != nil {
			return fmt.Errorf("build location source: %w", err)
		}
	}
	var pusher situation.ContextPusher
	if r.backend != nil && cfg.Situation.PushUpdates {
		pusher = r.backend
	}
	r.situation = situation.NewService(ctx, cfg.Situation, busClient, source, geocoder, pusher, r.logger)
	if err := r.situation.Start(); err != nil {
		return fmt.Errorf("start situation sampler: %w", err)
	}

	synth, err := buildSynthesizer(cfg.Speak, r.backend)
	if err != nil {
		return fmt.Errorf("build speech synthesizer: %w", err)
	}
	r.speak = speak.NewService(ctx, cfg.Speak, busClient, synth, buildPlayer(cfg.Speak), r.logger)
	if err := r.speak.Start(); err != nil {
		return fmt.Errorf("start speech output: %w", err)
	}

	engine, err := buildListenEngine(cfg.Listen)
	if err != nil {
		return fmt.Errorf("build recognition engine: %w", err)
	}
	r.listen = listen.NewService(ctx, cfg.Listen, busClient, engine, r.logger)
	if err := r.listen.Start(); err != nil {
		return fmt.Errorf("start live recognition: %w", err)
	}

	recorder, err := buildRecorder(cfg.Capture)
	if err != nil {
		return fmt.Errorf("build audio recorder: %w", err)
	}
	var transcriber capture.Transcriber
	if r.backend != nil {
		transcriber = r.backend
	}
	r.capture = capture.NewService(ctx, cfg.Capture, busClient, recorder, transcriber, r.logger)
	if err := r.capture.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	var predictor suggest.Predictor
	if r.backend != nil && cfg.Suggest.Source == "backend" {
		predictor = r.backend
	}
	r.suggest = suggest.NewService(ctx, cfg.Suggest, busClient, predictor, r.situation, r.logger)
	if err := r.suggest.Start(); err != nil {
		return fmt.Errorf("start suggestions: %w", err)
	}

	r.session = session.NewCoordinator(ctx, cfg.Session, busClient, session.Controllers{
		Listener:  r.listen,
		Recorder:  r.capture,
		Speaker:   r.speak,
		Situation: r.situation,
		History:   store,
	}, r.logger)
	if err := r.session.Start(); err != nil {
		return fmt.Errorf("start session coordinator: %w", err)
	}

	nodeCfg := cfg.Node
	nodeCfg.Capabilities = capability.BuildLocal(cfg)
	registry, err := capability.NewRegistry(ctx, nodeCfg, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}
	r.registry = registry

	r.gateway = gateway.NewService(cfg.Gateway, busClient, r.logger)
	if err := r.gateway.Start(); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	return nil
}

// stopServices unwinds in reverse start order. Safe to call with a partially
// started graph.
func (r *Runtime) stopServices() {
	if r.gateway != nil {
		r.gateway.Close()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.session != nil {
		r.session.Close()
	}
	if r.suggest != nil {
		r.suggest.Close()
	}
	if r.capture != nil {
		r.capture.Close()
	}
	if r.listen != nil {
		r.listen.Close()
	}
	if r.speak != nil {
		r.speak.Close()
	}
	if r.situation != nil {
		r.situation.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("history store close failed", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
}

func buildListenEngine(cfg config.ListenConfig) (listen.Engine, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Mode {
	case "mock":
		return listen.NewMockEngine(nil, 0), nil
	case "exec":
		return listen.NewExecEngine(cfg)
	case "none":
		return listen.NewUnsupportedEngine(), nil
	default:
		return nil, fmt.Errorf("unknown listen mode %q", cfg.Mode)
	}
}

func buildRecorder(cfg config.CaptureConfig) (capture.Recorder, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Mode {
	case "mock":
		return capture.NewMockRecorder(), nil
	case "exec":
		return capture.NewExecRecorder(cfg)
	default:
		return nil, fmt.Errorf("unknown capture mode %q", cfg.Mode)
	}
}

func buildSynthesizer(cfg config.SpeakConfig, backendClient *backend.Client) (speak.Synthesizer, error) {
	if !cfg.Enabled || cfg.Mode == "none" {
		return nil, nil
	}
	switch cfg.Mode {
	case "mock":
		return speak.NewMockSynth(), nil
	case "exec":
		return speak.NewExecSynth(cfg)
	case "backend":
		if backendClient == nil {
			return nil, fmt.Errorf("speak.mode=backend requires the backend client")
		}
		return speak.NewBackendSynth(backendClient), nil
	default:
		return nil, fmt.Errorf("unknown speak mode %q", cfg.Mode)
	}
}

func buildPlayer(cfg config.SpeakConfig) speak.Player {
	if cfg.Player == "beep" {
		return speak.NewBeepPlayer()
	}
	return speak.NewNullPlayer()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	if name, ok := r.subsystemsHealthy(); !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("degraded: " + name))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (r *Runtime) subsystemsHealthy() (string, bool) {
	if r.bus != nil && !r.bus.Healthy() {
		return "bus", false
	}
	checks := []struct {
		name string
		ok   bool
	}{
		{"situation", r.situation == nil || r.situation.Healthy()},
		{"speak", r.speak == nil || r.speak.Healthy()},
		{"listen", r.listen == nil || r.listen.Healthy()},
		{"capture", r.capture == nil || r.capture.Healthy()},
		{"suggest", r.suggest == nil || r.suggest.Healthy()},
		{"session", r.session == nil || r.session.Healthy()},
		{"gateway", r.gateway == nil || r.gateway.Healthy()},
	}
	for _, c := range checks {
		if !c.ok {
			return c.name, false
		}
	}
	return "", true
}

type statusPayload struct {
	Runtime      string                  `json:"runtime"`
	Environment  string                  `json:"environment"`
	Session      protocol.StatusReply    `json:"session"`
	Situation    protocol.Situation      `json:"situation"`
	Capabilities []capability.Capability `json:"capabilities"`
	Clients      int                     `json:"gateway_clients"`
	BusConnected bool                    `json:"bus_connected"`
	Backend      string                  `json:"backend,omitempty"`
}

func (r *Runtime) handleStatus(w http.ResponseWriter, req *http.Request) {
	payload := statusPayload{
		Runtime:      r.cfg.RuntimeName,
		Environment:  r.cfg.Environment,
		BusConnected: r.bus != nil && r.bus.Healthy(),
	}
	if r.backend != nil {
		probeCtx, cancel := context.WithTimeout(req.Context(), time.Second)
		if err := r.backend.Health(probeCtx); err != nil {
			payload.Backend = "unreachable"
		} else {
			payload.Backend = "ok"
		}
		cancel()
	}
	if r.session != nil {
		payload.Session = r.session.Status()
	}
	if r.situation != nil {
		payload.Situation = r.situation.Current()
	}
	if r.registry != nil {
		payload.Capabilities = r.registry.LocalCapabilities()
	}
	if r.gateway != nil {
		payload.Clients = r.gateway.ClientCount()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Warn("failed to encode status", slog.String("error", err.Error()))
	}
}
