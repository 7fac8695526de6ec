package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/raysh454/webaudit/internal/events"
	"github.com/raysh454/webaudit/internal/module"
	"github.com/raysh454/webaudit/internal/mozilla"
	"github.com/raysh454/webaudit/internal/storage"
	"github.com/raysh454/webaudit/internal/webclient"
)

const envPrefix = "WEBAUDIT"

type ServerConfig struct {
	// Addr is the listen address of the API server.
	Addr string `mapstructure:"addr"`

	// AllowedOrigins feeds the CORS and websocket origin checks. Empty
	// allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type OrchestratorConfig struct {
	// Concurrency bounds the AnalyseDomain calls in flight across all modules.
	Concurrency int `mapstructure:"concurrency"`

	// JobEventBuffer is the size of each job's event channel.
	JobEventBuffer int `mapstructure:"job_event_buffer"`

	// AnalyseTimeout bounds one target across all modules. Zero disables it.
	AnalyseTimeout time.Duration `mapstructure:"analyse_timeout"`
}

// Config is the runtime configuration of the host. Module sections live
// under modules.<module id> and are decoded by the modules themselves.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Storage      storage.Config     `mapstructure:"storage"`
	WebClient    webclient.Config   `mapstructure:"webclient"`
	Kafka        events.KafkaConfig `mapstructure:"kafka"`

	v *viper.Viper
}

var _ module.Config = (*Config)(nil)

// DefaultConfig returns a Config populated with sensible development defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "localhost:8080",
		},
		Orchestrator: OrchestratorConfig{
			Concurrency:    4,
			JobEventBuffer: 64,
			AnalyseTimeout: 5 * time.Minute,
		},
		Storage: storage.Config{
			Driver: storage.DriverSQLite,
			Path:   "data/webaudit.db",
		},
		WebClient: webclient.Config{
			Client:    webclient.ClientNetHTTP,
			Timeout:   30 * time.Second,
			UserAgent: "webaudit/1.0",
		},
		Kafka: events.KafkaConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "webaudit-events",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("orchestrator.concurrency", d.Orchestrator.Concurrency)
	v.SetDefault("orchestrator.job_event_buffer", d.Orchestrator.JobEventBuffer)
	v.SetDefault("orchestrator.analyse_timeout", d.Orchestrator.AnalyseTimeout)

	v.SetDefault("storage.driver", string(d.Storage.Driver))
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.dsn", d.Storage.DSN)

	v.SetDefault("webclient.client", string(d.WebClient.Client))
	v.SetDefault("webclient.timeout", d.WebClient.Timeout)
	v.SetDefault("webclient.user_agent", d.WebClient.UserAgent)
	v.SetDefault("webclient.max_body_bytes", d.WebClient.MaxBodyBytes)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)

	// Registered so WEBAUDIT_MODULES_MOZILLA_OBSERVATORY_* overrides apply.
	m := mozilla.DefaultConfig()
	prefix := "modules." + mozilla.ID + "."
	v.SetDefault(prefix+"base_url", m.BaseURL)
	v.SetDefault(prefix+"hidden", m.Hidden)
	v.SetDefault(prefix+"timeout", m.Timeout)
}

// LoadConfig reads path (YAML, JSON or TOML by extension) on top of the
// defaults; WEBAUDIT_* environment variables override both. With an empty
// path, webaudit.yaml is looked up in . and ./config and may be absent.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		v.SetConfigName("webaudit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.v = v
	return cfg, nil
}

// Decode implements module.Config. Every key under modules.<moduleID> is
// resolved through viper, so environment overrides apply to nested keys too.
func (c *Config) Decode(moduleID string, out any) error {
	if c == nil || c.v == nil {
		return nil
	}
	prefix := "modules." + strings.ToLower(moduleID) + "."
	section := viper.New()
	found := false
	for _, key := range c.v.AllKeys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		section.Set(strings.TrimPrefix(key, prefix), c.v.Get(key))
		found = true
	}
	if !found {
		return nil
	}
	if err := section.Unmarshal(out); err != nil {
		return fmt.Errorf("decode modules.%s: %w", moduleID, err)
	}
	return nil
}
