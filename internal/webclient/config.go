package webclient

import "time"

type Client string

const (
	ClientNetHTTP Client = "nethttp"
)

// Config selects and tunes the WebClient backend.
type Config struct {
	Client Client `mapstructure:"client"`

	// Timeout bounds a whole request including reading the body. Zero means 30s.
	Timeout time.Duration `mapstructure:"timeout"`

	// UserAgent is sent on every request when set.
	UserAgent string `mapstructure:"user_agent"`

	// MaxBodyBytes caps a response body. Zero means 10 MiB.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}
