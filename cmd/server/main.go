package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/agent-beacon/backend/internal/config"
	"github.com/agent-beacon/backend/internal/mock"
	"github.com/agent-beacon/backend/internal/notify"
	"github.com/agent-beacon/backend/internal/procsnap"
	"github.com/agent-beacon/backend/internal/session"
	"github.com/agent-beacon/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Generate synthetic session traffic")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	genToken := flag.Bool("gen-token", false, "Print a random auth token and exit")
	flag.Parse()

	if *genToken {
		token, err := config.GenerateToken()
		if err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		os.Stdout.WriteString(token + "\n")
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	filter := cfg.PrivacyFilter()
	broadcaster := ws.NewBroadcaster(filter, cfg.Timing.BroadcastThrottle, cfg.Timing.SnapshotInterval, cfg.Server.MaxConnections)

	var notifier session.Notifier = notify.Multi{broadcaster}
	if cfg.Notify.Desktop {
		notifier = notify.Multi{notify.NewDesktop(), broadcaster}
	}

	var snapshots procsnap.Provider
	if !*mockMode {
		snapshots = procsnap.NewSystemProvider()
	}

	store := session.NewStore(cfg.Tuning(), snapshots, notifier, broadcaster)
	broadcaster.BindSource(store.Snapshot)

	coalescer := session.NewCoalescer(cfg.Timing.CoalesceInterval, store.Handle)

	server := ws.NewServer(store, coalescer, broadcaster, filter, cfg.Server.AllowedOrigins, cfg.Server.AuthToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *mockMode {
		// Synthetic sessions have no real processes behind them, so the
		// liveness loop stays off.
		log.Println("Starting in mock mode")
		gen := mock.NewGenerator(coalescer)
		gen.Start(ctx)
	} else {
		log.Println("Starting in real mode (hook ingest + process liveness)")
		store.StartLiveness(ctx, cfg.Timing.LivenessInterval)
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
