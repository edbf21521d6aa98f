package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/SJJC-Team/whooshing-vapor/internal/config"
	"github.com/SJJC-Team/whooshing-vapor/internal/logger"
	"github.com/SJJC-Team/whooshing-vapor/internal/registry"
	"github.com/SJJC-Team/whooshing-vapor/internal/server"
)

var configFilePath string

func main() {
	flag.StringVar(&configFilePath, "config", "", "Path to the TOML configuration file")
	flag.Parse()

	if configFilePath == "" {
		fmt.Fprintln(os.Stderr, "Error: Configuration file path must be provided via -config flag.")
		flag.Usage()
		os.Exit(1)
	}
	absConfigPath, err := filepath.Abs(configFilePath)
	if err != nil {
		log.Fatalf("Error getting absolute path for config file %s: %v", configFilePath, err)
	}

	cfg, err := config.Load(absConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", absConfigPath, err)
	}

	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if err := appLogger.CloseLogFiles(); err != nil {
			log.Printf("Error closing log files during shutdown: %v", err)
		}
	}()
	appLogger.Info("logger initialized", nil)

	reg := registry.NewRegistry(registry.FragmentCounts{
		Standard: *cfg.Pipeline.StandardFragmentCount,
		Upgraded: *cfg.Pipeline.UpgradedFragmentCount,
	})

	// No transform capability is installed here: connections are pure
	// passthrough. Deployments embedding this server construct their own
	// transform.Transformer and pass it to server.NewServer.
	srv, err := server.NewServer(cfg, appLogger, reg, nil, defaultHandler())
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Info("shutdown signal received", logger.LogFields{"signal": sig.String()})
		if err := srv.Shutdown(); err != nil {
			appLogger.Error("graceful shutdown failed", logger.LogFields{"error": err.Error()})
		}
	}()

	if err := srv.Wait(); err != nil {
		appLogger.Error("server exited with error", logger.LogFields{"error": err.Error()})
		os.Exit(1)
	}
	appLogger.Info("server exited", nil)
}

// defaultHandler answers health probes and nothing else; the real
// application handler is supplied by the embedding deployment.
func defaultHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	return mux
}
