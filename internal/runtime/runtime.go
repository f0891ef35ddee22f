// Package runtime wires the daemon together: telemetry, the embedded
// bus, the journal, the edit collaborators, the engine, and the
// dictation control service, plus the health and metrics HTTP surface.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxedlabs/voxed/internal/bus"
	"github.com/voxedlabs/voxed/internal/config"
	"github.com/voxedlabs/voxed/internal/dictation"
	"github.com/voxedlabs/voxed/internal/edit"
	"github.com/voxedlabs/voxed/internal/engine"
	"github.com/voxedlabs/voxed/internal/filter"
	"github.com/voxedlabs/voxed/internal/journal"
	"github.com/voxedlabs/voxed/internal/natsserver"
	"github.com/voxedlabs/voxed/internal/presence"
	"github.com/voxedlabs/voxed/internal/transport"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the daemon up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	jr, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer jr.Close()

	completer, err := edit.NewCompleter(r.cfg.Edit)
	if err != nil {
		return fmt.Errorf("failed to build edit backend: %w", err)
	}
	editor := edit.NewEditor(completer, r.cfg.Edit)

	tr, err := r.buildTransport(busClient)
	if err != nil {
		return fmt.Errorf("failed to build transport: %w", err)
	}

	// The dictation service is the engine's Notifier, so the two are
	// built in two steps.
	svc := dictation.NewService(ctx, r.cfg.Dictation, tr, jr, busClient, r.logger)
	eng := engine.New(editor, svc, r.cfg.Dictation, r.logger)
	svc.Bind(eng)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start dictation service: %w", err)
	}
	defer svc.Close()

	if r.cfg.Filters.Enabled {
		filterRuntime, err := filter.NewRuntime(ctx, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start filter runtime: %w", err)
		}
		defer filterRuntime.Close(context.Background())

		filterChain, err := filter.LoadChain(ctx, filterRuntime, r.cfg.Filters.Directory, r.logger)
		if err != nil {
			r.logger.Warn("filters disabled", slog.String("error", err.Error()))
		} else if filterChain.Len() > 0 {
			eng.SetFilter(filterChain)
		}
	}

	tracker, err := presence.NewTracker(ctx, r.cfg.Node, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start presence tracker: %w", err)
	}
	defer tracker.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
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

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("transport", r.cfg.Transport.Mode),
		slog.String("edit_backend", r.cfg.Edit.Mode))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildTransport(busClient *bus.Client) (transport.Transport, error) {
	switch r.cfg.Transport.Mode {
	case "exec":
		return transport.NewExec(r.cfg.Transport, r.logger)
	case "deepgram":
		return transport.NewDeepgram(r.cfg.Transport, busClient, r.logger)
	default:
		return nil, fmt.Errorf("unknown transport mode %q", r.cfg.Transport.Mode)
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
