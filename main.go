package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-ingest/internal/batch"
	"media-ingest/internal/broker"
	"media-ingest/internal/cachefolder"
	"media-ingest/internal/config"
	"media-ingest/internal/dlq"
	"media-ingest/internal/logging"
	"media-ingest/internal/memory"
	"media-ingest/internal/messages"
	"media-ingest/internal/process"
	"media-ingest/internal/reconcile"
	"media-ingest/internal/scan"
	"media-ingest/internal/store"
	"media-ingest/internal/workers"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	memory.ConfigureFromEnv()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}
	cfg.LogBanner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		logging.Fatal("Failed to open store: %v", err)
	}
	defer s.Close()

	if err := cachefolder.Seed(ctx, s, cfg.CacheRoots); err != nil {
		logging.Fatal("Failed to register cache roots: %v", err)
	}
	selector := cachefolder.NewSelector(s)

	b, err := broker.Connect(cfg.BrokerURL)
	if err != nil {
		logging.Fatal("Failed to connect to broker: %v", err)
	}
	defer b.Close()
	if err := b.DeclareTopology(cfg.DLQTTL); err != nil {
		logging.Fatal("Failed to declare broker topology: %v", err)
	}

	// Dead-lettered messages from a previous run go back to their
	// origin queues before any consumer can race them. A stalled
	// recovery leaves the remainder in the DLQ for the next run.
	if err := dlq.New(b).Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.Error("DLQ recovery incomplete, remaining messages left in place: %v", err)
	}

	scanner := scan.New(s, b, selector, cfg)
	processor := process.New(s, b, selector, cfg)
	thumbs := batch.NewThumbnailConsumer(s, selector, cfg)
	caches := batch.NewCacheConsumer(s, selector, cfg)
	thumbs.Start(ctx)
	caches.Start(ctx)

	consumers := []struct {
		queue    string
		prefetch int
		handler  func(ctx context.Context, body []byte) error
	}{
		{messages.QueueCollectionScan, workers.ForIO(cfg.PrefetchCount), scanner.HandleCollectionScan},
		{messages.QueueCollectionCreation, 1, scanner.HandleCollectionCreation},
		{messages.QueueLibraryScan, 1, scanner.HandleLibraryScan},
		{messages.QueueBulkOperation, 1, scanner.HandleBulkOperation},
		{messages.QueueImageProcessing, workers.Count(float64(cfg.WorkerMultiplier), cfg.PrefetchCount), processor.Handle},
		{messages.QueueThumbnailGeneration, workers.ForCPU(cfg.PrefetchCount), thumbs.Handle},
		{messages.QueueCacheGeneration, workers.ForCPU(cfg.PrefetchCount), caches.Handle},
	}
	for _, c := range consumers {
		handler := c.handler
		err := b.Consume(ctx, c.queue, c.prefetch, func(ctx context.Context, d amqp.Delivery) error {
			return handler(ctx, d.Body)
		})
		if err != nil {
			logging.Fatal("Failed to start consumer for %s: %v", c.queue, err)
		}
	}

	go reconcile.New(s).Run(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.OpsPort),
		Handler: setupRouter(b),
	}

	go handleShutdown(srv, cancel, thumbs, caches)

	logging.Info("Ops server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Fatal("Ops server failed: %v", err)
	}
	logging.Info("Shutdown complete")
}

func setupRouter(b *broker.Broker) *mux.Router {
	r := mux.NewRouter()

	alive := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
	ready := func(w http.ResponseWriter, _ *http.Request) {
		if _, err := b.QueueDepth(messages.QueueImageProcessing); err != nil {
			http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}

	r.HandleFunc("/health", alive).Methods("GET")
	r.HandleFunc("/healthz", alive).Methods("GET")
	r.HandleFunc("/livez", alive).Methods("GET")
	r.HandleFunc("/readyz", ready).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

func handleShutdown(srv *http.Server, cancel context.CancelFunc, thumbs *batch.ThumbnailConsumer, caches *batch.CacheConsumer) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logging.Info("Received %s, shutting down", sig)

	// Stop consuming first. In-flight deliveries either settle or stay
	// unacked and redeliver on the next start.
	cancel()

	logging.Info("Draining pending batches")
	thumbs.Drain()
	caches.Drain()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelTimeout()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Ops server shutdown error: %v", err)
	}
}
