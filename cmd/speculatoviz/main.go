package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"speculatoviz/internal/config"
	"speculatoviz/internal/draftmodel"
	"speculatoviz/internal/logger"
	"speculatoviz/internal/speculator"
	"speculatoviz/internal/targetmodel"
	"speculatoviz/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	logger.Log.Info("starting speculatoviz", "addr", cfg.Addr, "target_model", cfg.TargetModel, "draft_model", cfg.DraftModel)

	verifyTimeout := time.Duration(cfg.VerifyTimeout) * time.Millisecond

	target := targetmodel.NewHTTPClient(cfg.TargetBaseURL, cfg.TargetAPIKey, cfg.TargetModel, targetmodel.NewRegistry(), verifyTimeout)
	draft := draftmodel.NewHTTPClient(cfg.DraftBaseURL, cfg.DraftModel, 60*time.Second)
	spec := speculator.New(draft, target, cfg.MetricsWindow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()

	corsMiddleware := transport.NewCORSMiddleware(cfg.CORSOrigins)
	authMiddleware := transport.NewAuthMiddleware(cfg.APIKey)
	loggingMiddleware := transport.NewLoggingMiddleware()

	mux.Handle("/health", transport.HealthHandler())
	mux.Handle("/healthz", transport.HealthzHandler())
	mux.Handle("/readyz", transport.ReadyzHandler())
	mux.Handle("/version", transport.VersionHandler())
	mux.Handle("/metrics", transport.MetricsHandler())

	debugMux := http.NewServeMux()
	debugMux.Handle("/draft", authMiddleware.Authenticate(transport.DebugDraftHandler(draft)))
	mux.Handle("/debug/", loggingMiddleware.Middleware(corsMiddleware.Middleware(http.StripPrefix("/debug", debugMux).ServeHTTP)))

	wsHandler := transport.WebSocketHandler(spec, verifyTimeout, cfg.EOSTokenIDs, cfg.MetricsWindow)
	mux.Handle("/ws", loggingMiddleware.Middleware(corsMiddleware.Middleware(authMiddleware.Authenticate(wsHandler))))

	handler := transport.RequestCounterMiddleware(mux.ServeHTTP)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Log.Info("shutting down server")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Log.Error("server error", "error", err.Error())
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Log.Info("server stopped")
}
