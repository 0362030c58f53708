// Command dossie wires the Task Record Store, Priority Queue Manager,
// Circuit Breaker Registry, Retry Scheduler, Worker Pool, Progress
// Aggregator, Notification Hub, and Dispatch Facade into a running
// process, grounded on main.go's wiring order: store selection,
// background pumps, hub goroutine, HTTP mux with /health and metrics.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dossie-intel/core/internal/breaker"
	"github.com/dossie-intel/core/internal/config"
	"github.com/dossie-intel/core/internal/dispatch"
	"github.com/dossie-intel/core/internal/hub"
	"github.com/dossie-intel/core/internal/probe"
	"github.com/dossie-intel/core/internal/progress"
	"github.com/dossie-intel/core/internal/queue"
	"github.com/dossie-intel/core/internal/resilience"
	"github.com/dossie-intel/core/internal/retry"
	"github.com/dossie-intel/core/internal/store"
	"github.com/dossie-intel/core/internal/worker"
)

func newStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		log.Printf("using Redis task record store at %s", cfg.RedisAddr)
		return store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "postgres":
		log.Printf("using Postgres task record store")
		return store.NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		log.Printf("using in-memory task record store (dev mode)")
		return store.NewMemoryStore(), nil
	}
}

// newDemoProbes builds HTTP probes pointed at per-source endpoints supplied
// via env vars of the form DOSSIE_PROBE_<SOURCE>, falling back to a
// FlakyProbe configured never to fail so the process is runnable without
// external dependencies.
func newDemoProbes(cfg config.Config) probe.Registry {
	reg := make(probe.Registry)
	for _, source := range store.AllSources {
		timeout := cfg.WorkerTimeout[source]
		if endpoint := os.Getenv("DOSSIE_PROBE_" + string(source)); endpoint != "" {
			reg[string(source)] = probe.NewHTTPProbe(endpoint, timeout)
			continue
		}
		reg[string(source)] = probe.NewFlakyProbe(0, map[string]any{"source": string(source)}, nil)
	}
	return reg
}

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize task record store: %v", err)
	}

	monitor := resilience.NewMonitor()
	breakers := breaker.NewRegistry(cfg.BreakerThreshold, cfg.BreakerRecoveryAfter)
	prog := progress.New()
	q := queue.NewManager(s, breakers, prog)
	retrySched := retry.New(s, q, cfg.RetryBaseDelay, cfg.RetryMaxDelay, cfg.RetryInterval)
	notificationHub := hub.New()
	publisher := hub.NewHubPublisher(notificationHub)
	facade := dispatch.New(s, q, retrySched, breakers, prog, publisher, cfg)

	if redisStore, ok := s.(*store.RedisStore); ok {
		client := redisStore.Client()
		q.WithRedis(client)
		breakers.WithRedis(client)
		retrySched.WithRedis(client)
		if err := retrySched.Restore(ctx); err != nil {
			log.Printf("retry: failed to restore pending slots from redis: %v", err)
		}
	}

	retrySched.Start(ctx)
	go notificationHub.Run(ctx)

	if pgStore, ok := s.(*store.PostgresStore); ok {
		go func() {
			ticker := time.NewTicker(cfg.RetryInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := pgStore.SweepExpired(ctx); err != nil {
						log.Printf("postgres: retention sweep failed: %v", err)
					}
				}
			}
		}()
	}

	limiter := resilience.NewSourceLimiter(5, 10)
	probes := newDemoProbes(cfg)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, source := range store.AllSources {
		source := source
		timeout := cfg.WorkerTimeout[source]
		w := worker.New(source, probes.Get(string(source)), timeout, q, s, breakers, retrySched, prog, publisher).
			WithLimiter(limiter).
			WithRetentionTTL(cfg.RetentionTTL).
			WithFaultMonitor(monitor)
		group.Go(func() error {
			w.Run(groupCtx)
			return nil
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if monitor.IsDegraded() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("degraded"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stream", newStreamHandler(notificationHub))
	registerAdminRoutes(mux, facade)

	metricsServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	group.Go(func() error {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
		cancel()
	}()

	if err := group.Wait(); err != nil {
		log.Fatalf("process exited with error: %v", err)
	}
}

// newStreamHandler upgrades incoming connections to WebSocket and registers
// them with the hub under the investigation id given by the "investigation"
// query parameter, grounded on api_stream.go's upgrade handler (trimmed of
// the JWT/tenant middleware it layers on, since REST authentication is out
// of scope here).
func newStreamHandler(h *hub.Hub) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		investigationID := r.URL.Query().Get("investigation")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("stream: upgrade failed: %v", err)
			return
		}

		subscriber := hub.NewWebSocketSubscriber(conn)
		subID := r.RemoteAddr + "-" + investigationID
		h.Subscribe(subID, investigationID, subscriber)

		subscriber.Send(hub.Event{Type: hub.EventConnected, InvestigationID: investigationID})

		go func() {
			defer h.Unsubscribe(subID)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
