package server

import (
	"github.com/raysh454/webaudit/internal/app"
	"github.com/raysh454/webaudit/internal/logging"
)

type Config struct {
	// ListenAddr is the HTTP listen address for the API server (the CLI runs
	// the orchestrator in-process and does not require the network).
	ListenAddr string

	// AllowedOrigins restricts CORS and websocket origins. Empty allows any.
	AllowedOrigins []string

	Logger logging.Logger
}

// ConfigFrom maps the server section of the application config.
func ConfigFrom(sc app.ServerConfig, logger logging.Logger) Config {
	return Config{
		ListenAddr:     sc.Addr,
		AllowedOrigins: append([]string(nil), sc.AllowedOrigins...),
		Logger:         logger,
	}
}
