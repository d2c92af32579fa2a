// Package app wires the vigil subsystems into a running service.
//
// The App struct owns the full lifecycle: New wraps the backends in circuit
// breakers and builds the detector, speech worker and HTTP surface; Run serves
// until the context ends; Shutdown releases every backend in order.
//
// For testing, pass mock backends in [Providers] and inject observability
// through functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vigil/internal/config"
	"github.com/MrWong99/vigil/internal/detector"
	"github.com/MrWong99/vigil/internal/health"
	"github.com/MrWong99/vigil/internal/observe"
	"github.com/MrWong99/vigil/internal/resilience"
	"github.com/MrWong99/vigil/internal/server"
	"github.com/MrWong99/vigil/internal/speech"
	"github.com/MrWong99/vigil/internal/stream"
	"github.com/MrWong99/vigil/pkg/provider/vision"
)

const (
	defaultAnalyzerTimeout = 2 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler
	configPath     string
	watchInterval  time.Duration

	// Subsystems, initialised in New.
	detector *detector.Detector
	worker   *speech.Worker
	stream   *stream.Handler
	server   *server.Server
	health   *health.Handler
	watcher  *config.Watcher
	breakers []*resilience.CircuitBreaker

	// cfgMu guards cfg across hot reloads.
	cfgMu sync.Mutex

	addr     atomic.Pointer[string]
	draining atomic.Bool

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLevelVar lets config reloads change the log level of the logger built
// over lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler overrides the /metrics handler. Defaults to the
// Prometheus default gatherer, which the OTel exporter registers with.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConfigWatch reloads hot-reloadable settings whenever the file at path
// changes. interval <= 0 uses the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds the application from cfg and the already-created providers.
// A nil provider disables the matching capability.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	cal := cfg.Calibration.Resolve()
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("app: calibration: %w", err)
	}

	// ── 1. Analyzers behind breakers ─────────────────────────────────────
	analyzers := a.wrapAnalyzers()

	// ── 2. Speech worker ─────────────────────────────────────────────────
	a.worker = speech.NewWorker(providers.Audio, providers.VAD,
		speech.Config{Threshold: cal.SpeechThreshold, WindowSize: cal.SpeechWindow},
		speech.WithMetrics(a.metrics),
	)

	// ── 3. Detector ──────────────────────────────────────────────────────
	timeout := cfg.Vision.Timeout
	if timeout == 0 {
		timeout = defaultAnalyzerTimeout
	}
	a.detector = detector.New(analyzers,
		detector.WithCalibration(cal),
		detector.WithSpeech(a.worker.Updates()),
		detector.WithMetrics(a.metrics),
		detector.WithAnalyzerTimeout(timeout),
	)

	// ── 4. Streaming channel, health, control API ────────────────────────
	a.stream = stream.NewHandler(a.detector,
		stream.WithMetrics(a.metrics),
		stream.WithReadLimit(cfg.Server.ReadLimit),
		stream.WithOrigins(cfg.Server.Origins()),
	)

	// Missing or failing analyzers degrade the snapshot but never stop the
	// service from answering; only draining takes it out of rotation.
	a.health = health.New(
		health.Ready("serving", func() bool { return !a.draining.Load() }),
		health.Optional(health.Running("audio", a.worker.Running)),
		health.Optional(health.Configured("landmarker", providers.Landmarker != nil)),
		health.Optional(health.BreakersClosed("analyzers", a.breakers...)),
	)

	srv, err := server.New(server.Config{
		Detector:         a.detector,
		Stream:           a.stream,
		Health:           a.health,
		MetricsHandler:   a.metricsHandler,
		Metrics:          a.metrics,
		AudioInitialized: a.worker.Running,
		ModelLoaded:      func() bool { return providers.Landmarker != nil },
		Origins:          cfg.Server.Origins(),
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.server = srv

	// ── 5. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.Reload, wopts...)
		if err != nil {
			return nil, fmt.Errorf("app: config watcher: %w", err)
		}
		a.watcher = w
	}

	a.closers = append(a.closers, providers.closers()...)

	slog.Info("app initialised",
		"speech", providers.Audio != nil && providers.VAD != nil,
		"landmarker", providers.Landmarker != nil,
		"emotion", providers.Emotion != nil || len(providers.EmotionFallbacks) > 0,
		"gender", providers.Gender != nil,
		"cascade", providers.Cascade != nil,
		"breakers", len(a.breakers),
	)
	return a, nil
}

// wrapAnalyzers puts every configured vision backend behind a circuit breaker
// and collects the breakers for the readiness check.
func (a *App) wrapAnalyzers() detector.Analyzers {
	p := a.providers
	bc := resilience.CircuitBreakerConfig{
		MaxFailures:  a.cfg.Vision.Breaker.MaxFailures,
		ResetTimeout: a.cfg.Vision.Breaker.ResetTimeout,
	}
	named := func(name string) resilience.CircuitBreakerConfig {
		c := bc
		c.Name = name
		return c
	}

	var out detector.Analyzers
	if p.Landmarker != nil {
		w := resilience.NewLandmarkerBreaker(p.Landmarker, named("landmarker/"+a.cfg.Vision.Landmarker.Name))
		a.breakers = append(a.breakers, w.Breaker())
		out.Landmarker = w
	}
	if p.Gender != nil {
		w := resilience.NewGenderBreaker(p.Gender, named("gender/"+a.cfg.Vision.Gender.Name))
		a.breakers = append(a.breakers, w.Breaker())
		out.Gender = w
	}
	if p.Cascade != nil {
		w := resilience.NewCascadeBreaker(p.Cascade, named("cascade/"+a.cfg.Vision.Cascade.Name))
		a.breakers = append(a.breakers, w.Breaker())
		out.Cascade = w
	}
	if em := a.emotionChain(); em != nil {
		out.Emotion = em
	}
	return out
}

// emotionChain builds the emotion fallback group. When the primary failed to
// build, the first fallback takes its place.
func (a *App) emotionChain() vision.EmotionClassifier {
	chain := a.providers.EmotionFallbacks
	if a.providers.Emotion != nil {
		chain = append([]NamedEmotion{{Name: a.cfg.Vision.Emotion.Name, Classifier: a.providers.Emotion}}, chain...)
	}
	if len(chain) == 0 {
		return nil
	}
	fb := resilience.NewEmotionFallback(resilience.CircuitBreakerConfig{
		MaxFailures:  a.cfg.Vision.Breaker.MaxFailures,
		ResetTimeout: a.cfg.Vision.Breaker.ResetTimeout,
	})
	for _, c := range chain {
		fb.Add("emotion/"+c.Name, c.Classifier)
	}
	a.breakers = append(a.breakers, fb.Breakers()...)
	return fb
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Detector returns the detection core.
func (a *App) Detector() *detector.Detector { return a.detector }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Addr returns the bound listen address once Run is serving, or "".
func (a *App) Addr() string {
	if p := a.addr.Load(); p != nil {
		return *p
	}
	return ""
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, runs the speech worker and the config watcher, and blocks
// until ctx is cancelled or the listener fails. A speech worker failure only
// disables speech detection.
func (a *App) Run(ctx context.Context) error {
	listenAddr := a.Config().Server.ListenAddr
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", listenAddr, err)
	}
	addr := ln.Addr().String()
	a.addr.Store(&addr)

	httpSrv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.worker.Run(gctx); err != nil {
			slog.Error("speech detection stopped", "err", err)
		}
		return nil
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		slog.Info("http server listening", "addr", addr)
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.draining.Store(true)
		timeout := a.Config().Server.ShutdownTimeout
		if timeout == 0 {
			timeout = defaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
		// A blocked Read only returns once the device is closed.
		if a.providers.Audio != nil {
			if err := a.providers.Audio.Close(); err != nil {
				slog.Warn("audio close", "err", err)
			}
		}
		if a.watcher != nil {
			a.watcher.Stop()
		}
		return nil
	})

	slog.Info("app running")
	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new and logs
// the rest. It is the config watcher callback.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.CalibrationChanged {
		cal := d.NewCalibration.Resolve()
		if err := cal.Validate(); err != nil {
			slog.Warn("ignoring invalid calibration", "err", err)
		} else {
			a.detector.SetCalibration(cal)
			a.worker.SetThreshold(cal.SpeechThreshold)
			slog.Info("calibration reloaded")
		}
	}

	if d.OriginsChanged {
		a.server.SetOrigins(d.NewOrigins)
		slog.Info("allowed origins changed", "origins", d.NewOrigins)
	}

	for _, section := range d.RestartRequired {
		slog.Warn("config change requires restart", "section", section)
	}

	a.cfgMu.Lock()
	a.cfg = new
	a.cfgMu.Unlock()
}

// Config returns the most recently applied config.
func (a *App) Config() *config.Config {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases every backend in order. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.draining.Store(true)
		slog.Info("shutting down", "closers", len(a.closers))
		if s := a.detector.Session(); a.detector.Active() {
			sum := a.detector.Stop(ctx)
			slog.Info("interview stopped at shutdown", "session_id", s.ID, "eye_movements", sum.TotalEyeMovements)
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
