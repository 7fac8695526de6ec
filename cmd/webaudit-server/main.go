// Command webaudit-server serves the webaudit HTTP and WebSocket API.
// Usage: go run ./cmd/webaudit-server [-config webaudit.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raysh454/webaudit/internal/app"
	"github.com/raysh454/webaudit/internal/logging"
	"github.com/raysh454/webaudit/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Config file (default: ./webaudit.yaml or ./config/webaudit.yaml)")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewStdoutLogger("webaudit-server")
	a, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("application: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		logger.Warn("some modules failed to initialize", logging.Field{Key: "error", Value: err.Error()})
	}

	s, err := server.NewServer(server.ConfigFrom(cfg.Server, logger), a)
	if err != nil {
		log.Fatalf("server: %v", err)
	}
	httpServer := s.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.Field{Key: "addr", Value: httpServer.Addr})
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", logging.Field{Key: "error", Value: err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Field{Key: "error", Value: err.Error()})
	}
	if err := s.Close(shutdownCtx); err != nil {
		logger.Warn("application shutdown", logging.Field{Key: "error", Value: err.Error()})
	}
}
