package demoserver

// Config holds configuration for the demo server.
type Config struct {
	// Port is the port on which the demo server listens.
	Port int

	// InitialVersion is the starting profile version for every host (default: 1).
	InitialVersion int

	// FailHosts answer analyze without a status code, like a scan the
	// Observatory could not run.
	FailHosts []string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:           9999,
		InitialVersion: 1,
		FailHosts:      []string{"unreachable.example"},
	}
}
