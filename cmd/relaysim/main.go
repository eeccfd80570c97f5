// relaysim runs the relay simulator as a standalone WebSocket relay,
// for driving a browser or CLI client against it by hand.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Pleb5/flotilla-budabit-sub001/internal/config"
	"github.com/Pleb5/flotilla-budabit-sub001/internal/simulator"
	"github.com/Pleb5/flotilla-budabit-sub001/pkg/protocol"
)

var (
	configPath  string
	listenAddr  string
	intercept   []string
	passthrough bool
	verbose     bool
	seedPath    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relaysim",
		Short: "Standalone relay simulator",
		Long: `relaysim serves the relay simulator over a real WebSocket listener.
Clients connect to ws://<listen>/ (optionally with ?url=wss://relay.example
to name the relay being impersonated); /metrics exposes traffic counters.`,
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file (or RELAYSIM_CONFIG)")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")
	rootCmd.Flags().StringSliceVar(&intercept, "intercept", nil, "Relay URL patterns to intercept (overrides config)")
	rootCmd.Flags().BoolVar(&passthrough, "passthrough", false, "Proxy unmatched relay URLs to the real relay")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Log every frame")
	rootCmd.Flags().StringVar(&seedPath, "seed", "", "JSON file with an array of events to pre-seed")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flags beat file and env.
	if cmd.Flags().Changed("listen") {
		cfg.Listen = listenAddr
	}
	if cmd.Flags().Changed("intercept") {
		cfg.Intercept = intercept
	}
	if cmd.Flags().Changed("passthrough") {
		cfg.Passthrough = passthrough
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = verbose
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seedPath
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	sim := simulator.New(simulator.Config{
		InterceptPatterns: cfg.Intercept,
		Passthrough:       cfg.Passthrough,
		Verbose:           cfg.Verbose,
		Logger:            logger,
	})
	defer sim.Close()

	if cfg.Seed != "" {
		events, err := loadSeedFile(cfg.Seed)
		if err != nil {
			return fmt.Errorf("loading seed file: %w", err)
		}
		if err := sim.SeedEvents(events); err != nil {
			return fmt.Errorf("seeding events: %w", err)
		}
		logger.Info("seeded events", "count", len(events), "file", cfg.Seed)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(sim.MetricsRegistry(), promhttp.HandlerOpts{}))
	mux.Handle("/", sim.Handler())

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  0, // WebSocket connections are long-lived
		WriteTimeout: 0,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	logger.Info("relay simulator listening",
		"addr", cfg.Listen, "intercept", cfg.Intercept, "passthrough", cfg.Passthrough)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// loadSeedFile reads a JSON array of events.
func loadSeedFile(path string) ([]*protocol.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []*protocol.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}
