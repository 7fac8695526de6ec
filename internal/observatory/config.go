package observatory

import "time"

const DefaultBaseURL = "https://http-observatory.security.mozilla.org/api/v1"

type Config struct {
	// BaseURL is the API root, without the trailing endpoint name.
	BaseURL string `mapstructure:"base_url"`

	// Hidden asks the service to keep the scan off its public listings.
	Hidden bool `mapstructure:"hidden"`

	// Timeout bounds each of the two remote calls. Zero means no deadline
	// beyond the caller's context.
	Timeout time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Hidden:  true,
		Timeout: 60 * time.Second,
	}
}
