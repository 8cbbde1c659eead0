// main package for the inference studio page server
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/inference-studio/internal/config"
	"github.com/book-expert/inference-studio/internal/core"
	"github.com/book-expert/inference-studio/internal/inference"
	"github.com/book-expert/inference-studio/internal/notify"
	"github.com/book-expert/inference-studio/internal/objectstore"
	"github.com/book-expert/inference-studio/internal/session"
	"github.com/book-expert/inference-studio/internal/web"
	"github.com/book-expert/inference-studio/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

const (
	bootstrapLogFile  = "studio-bootstrap.log"
	finalLogFile      = "studio.log"
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	natsClientName    = "inference-studio"
)

// backends are the storage and messaging collaborators chosen at startup.
type backends struct {
	store          core.ObjectStore
	publisher      core.Publisher
	natsConnection *nats.Conn
}

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, finalLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := inference.NewHTTPClient(cfg.Inference.BaseURL, cfg.Timeout())

	// 4. Connect storage and messaging
	deps, err := connectBackends(cfg, finalLog)
	if err != nil {
		finalLog.Error("Failed to connect backends: %v", err)

		return err
	}

	if deps.natsConnection != nil {
		defer func() { _ = deps.natsConnection.Drain() }()

		synthesisWorker := worker.NewNatsWorker(
			deps.natsConnection, cfg.NATS.TextProcessedSubject, deps.store, client, deps.publisher, finalLog,
		)

		go func() {
			workerErr := synthesisWorker.Run(ctx)
			if workerErr != nil {
				finalLog.Error("Synthesis worker stopped: %v", workerErr)
			}
		}()
	}

	// 5. Serve the pages
	registry := session.NewRegistry(session.Services{
		Classifier:  client,
		Synthesizer: client,
		Corrector:   client,
		Store:       deps.store,
		Publisher:   deps.publisher,
		Labels:      cfg.Inference.Labels,
		Timeout:     cfg.Timeout(),
	}, finalLog)
	defer registry.Close()

	go sweepSessions(ctx, registry, cfg.SessionIdle(), finalLog)

	server, err := web.NewServer(registry, deps.store, client, cfg.MaxUploadBytes(), finalLog)
	if err != nil {
		finalLog.Error("Failed to create page server: %v", err)

		return err
	}

	return serve(ctx, cfg.Addr(), server.Handler(), cfg.Inference.BaseURL, finalLog)
}

// connectBackends uses NATS JetStream when a URL is configured and in-process
// stand-ins otherwise.
func connectBackends(cfg *config.Config, log *logger.Logger) (backends, error) {
	if cfg.NATS.URL == "" {
		log.Info("NATS is not configured; clips are kept in memory")

		return backends{store: objectstore.NewMemory(), publisher: notify.Discard{}}, nil
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(natsClientName))
	if err != nil {
		return backends{}, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return backends{}, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return backends{}, fmt.Errorf("failed to open object store: %w", err)
	}

	log.Info("Connected to NATS at %s (bucket %s)", cfg.NATS.URL, cfg.NATS.AudioObjectStoreBucket)

	return backends{
		store:          store,
		publisher:      notify.NewNatsPublisher(natsConnection, cfg.NATS.AudioChunkCreatedSubject),
		natsConnection: natsConnection,
	}, nil
}

func serve(ctx context.Context, addr string, handler http.Handler, apiURL string, log *logger.Logger) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}

		close(serveErr)
	}()

	log.System("Inference studio listening on http://%s (inference service %s)", addr, apiURL)

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("Page server failed: %v", err)

			return fmt.Errorf("page server failed: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down page server: %w", err)
	}

	return nil
}

// sweepSessions drops idle workspaces until ctx is done.
func sweepSessions(ctx context.Context, registry *session.Registry, maxIdle time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped := registry.Sweep(maxIdle)
			if dropped > 0 {
				log.Info("Dropped %d idle workspaces", dropped)
			}
		}
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
