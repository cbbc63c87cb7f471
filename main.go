package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"pixelpress/internal/capability"
	"pixelpress/internal/codec"
	"pixelpress/internal/engine"
	"pixelpress/internal/handlers"
	"pixelpress/internal/logging"
	"pixelpress/internal/memory"
	"pixelpress/internal/middleware"
	"pixelpress/internal/pool"
	"pixelpress/internal/startup"
	"pixelpress/internal/store"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Configure the Go memory limit before significant allocations
	memory.ConfigureFromEnv()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	// Initialize codec backends
	if err := codec.InitVips(); err != nil {
		logging.Warn("libvips initialization failed: %v", err)
	}
	startup.LogCodecInit(codec.VipsAvailable())

	reg := codec.NewRegistry()
	caps := capability.NewResolver(reg)
	caps.Resolve(context.Background())

	// Initialize job history
	var history *store.Store
	if config.HistoryEnabled {
		storeStart := time.Now()
		history, err = store.New(context.Background(), config.HistoryPath)
		if err != nil {
			logging.Warn("History store unavailable: %v", err)
			config.HistoryEnabled = false
		}
		startup.LogHistoryInit(config.HistoryEnabled, time.Since(storeStart))
	} else {
		startup.LogHistoryInit(false, 0)
	}

	// Initialize the encoding pool
	search := engine.DefaultSearchConfig()
	search.Tolerance = config.Tolerance
	eng := engine.New(reg, caps)
	p := pool.New(pool.NewEncodeExecutor(eng, reg, search))
	p.Warmup(2, runtime.GOMAXPROCS(0))
	startup.LogPoolInit(p.Size())

	// Feed the memory gauge periodically
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		for range ticker.C {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			memory.UpdateUsage(m.HeapAlloc)
		}
	}()

	// Initialize handlers
	h := handlers.New(p, caps, config)

	// Setup router
	router := setupRouter(h)

	// Log routes dynamically
	startup.LogHTTPRoutes(router)

	// Apply logging middleware
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	loggedHandler := middleware.Logger(loggingConfig)(router)

	// Apply metrics middleware
	handler := middleware.Metrics(middleware.DefaultMetricsConfig())(loggedHandler)

	// Create server
	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Metrics run on their own port so they stay off the public surface
	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:        ":" + config.MetricsPort,
			Handler:     metricsMux,
			ReadTimeout: 15 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Start graceful shutdown handler
	go handleShutdown(srv, metricsSrv, p, history)

	h.SetReady()

	// Start server
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/optimize", h.Optimize).Methods("POST")
	api.HandleFunc("/formats", h.GetFormats).Methods("GET")
	api.HandleFunc("/version", h.GetVersion).Methods("GET")

	return r
}

func handleShutdown(srv, metricsSrv *http.Server, p *pool.Pool, history *store.Store) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownStep("Stopping worker pool")
	p.Close()
	startup.LogShutdownStepComplete("Worker pool stopped")

	if history != nil {
		startup.LogShutdownStep("Closing history store")
		if err := history.Close(); err != nil {
			logging.Warn("History store close error: %v", err)
		} else {
			startup.LogShutdownStepComplete("History store closed")
		}
	}

	codec.ShutdownVips()
	startup.LogShutdownComplete()
	os.Exit(0)
}
