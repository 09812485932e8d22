package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/censys/scandiff/pkg/diff"
)

const (
	// Defaults mirror the docker-compose emulator settings.
	defaultProjectID      = "test-project"
	defaultSubscriptionID = "snapshot-sub"
	defaultEmulatorHost   = "localhost:8085"

	// Local persistence defaults to sqlite, stored in workspace
	defaultDatastore = "sqlite"
	defaultDBPath    = "data/scandiff.db"

	defaultHTTPAddr  = ":8080"
	defaultLogLevel  = "info"
	defaultLogFormat = "text"

	// ConfigFileEnv names an optional YAML config file.
	ConfigFileEnv = "SCANDIFF_CONFIG"
)

// envKeys maps viper keys to the environment variables that override them.
var envKeys = map[string]string{
	"pubsub.project_id":      "PUBSUB_PROJECT_ID",
	"pubsub.subscription_id": "PUBSUB_SUBSCRIPTION_ID",
	"pubsub.emulator_host":   "PUBSUB_EMULATOR_HOST",
	"datastore":              "DATASTORE",
	"db_path":                "DB_PATH",
	"http.addr":              "HTTP_ADDR",
	"log.level":              "LOG_LEVEL",
	"log.format":             "LOG_FORMAT",
	"diff.protocol_policy":   "DIFF_PROTOCOL_POLICY",
}

// Config aggregates runtime settings for the processor and the scandiff CLI.
type Config struct {
	PubSub    PubSubConfig `mapstructure:"pubsub"`
	Datastore string       `mapstructure:"datastore"`
	DBPath    string       `mapstructure:"db_path"`
	HTTP      HTTPConfig   `mapstructure:"http"`
	Log       LogConfig    `mapstructure:"log"`
	Diff      DiffConfig   `mapstructure:"diff"`
}

type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
	EmulatorHost   string `mapstructure:"emulator_host"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DiffConfig struct {
	ProtocolPolicy string `mapstructure:"protocol_policy"`
}

// NewViper returns a viper instance with defaults and environment bindings.
// Callers may bind flags to it before calling FromViper.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("pubsub.project_id", defaultProjectID)
	v.SetDefault("pubsub.subscription_id", defaultSubscriptionID)
	v.SetDefault("pubsub.emulator_host", defaultEmulatorHost)
	v.SetDefault("datastore", defaultDatastore)
	v.SetDefault("db_path", defaultDBPath)
	v.SetDefault("http.addr", defaultHTTPAddr)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.format", defaultLogFormat)
	v.SetDefault("diff.protocol_policy", string(diff.ProtocolModify))

	for key, env := range envKeys {
		// BindEnv only fails when called without a key.
		_ = v.BindEnv(key, env)
	}
	return v
}

// Load reads config from an optional file and environment variables,
// applying defaults. An empty path falls back to $SCANDIFF_CONFIG.
func Load(path string) (*Config, error) {
	v := NewViper()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// ReadFile merges a YAML config file into v. No path means no file.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		path = readEnv(ConfigFileEnv, "")
	}
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return nil
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	cfg.trim()

	if cfg.Datastore != "sqlite" {
		return nil, fmt.Errorf("unsupported datastore %q", cfg.Datastore)
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db_path must not be empty")
	}
	if _, err := diff.ParseProtocolPolicy(cfg.Diff.ProtocolPolicy); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DiffOptions returns the comparator options selected by the config.
func (c *Config) DiffOptions() diff.Options {
	policy, err := diff.ParseProtocolPolicy(c.Diff.ProtocolPolicy)
	if err != nil {
		return diff.DefaultOptions()
	}
	return diff.Options{ProtocolPolicy: policy}
}

func (c *Config) trim() {
	for _, s := range []*string{
		&c.PubSub.ProjectID, &c.PubSub.SubscriptionID, &c.PubSub.EmulatorHost,
		&c.Datastore, &c.DBPath, &c.HTTP.Addr,
		&c.Log.Level, &c.Log.Format, &c.Diff.ProtocolPolicy,
	} {
		*s = strings.TrimSpace(*s)
	}
}

// readEnv returns a key's value from environment, or fallback
func readEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
