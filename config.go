package ringkv

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the full configuration of a ringkv process.
type Config struct {
	Listen  string        `mapstructure:"listen"`
	Timeout time.Duration `mapstructure:"timeout"`

	Replicas int `mapstructure:"replicas"`
	Fallback int `mapstructure:"fallback"`
	MaxHops  int `mapstructure:"max_hops"`

	Replicator ReplicatorConfig `mapstructure:"replicator"`
	Codec      CodecConfig      `mapstructure:"codec"`
	Log        LogConfig        `mapstructure:"log"`
	Regions    []RegionConfig   `mapstructure:"regions"`
}

type CodecConfig struct {
	// Key is a hex encoded 32-byte key.
	Key        string `mapstructure:"key"`
	Passphrase string `mapstructure:"passphrase"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RegionConfig struct {
	Name  string       `mapstructure:"name"`
	Peers []PeerConfig `mapstructure:"peers"`
}

// PeerConfig declares one peer. RingKey pins the ring position instead of
// deriving it from the label.
type PeerConfig struct {
	Label   string  `mapstructure:"label"`
	RingKey *uint64 `mapstructure:"ring_key"`
}

const envPrefix = "RINGKV"

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:7400")
	v.SetDefault("timeout", 2*time.Second)
	v.SetDefault("replicas", 2)
	v.SetDefault("fallback", 2)
	v.SetDefault("max_hops", 0)
	v.SetDefault("replicator.workers", 4)
	v.SetDefault("replicator.queue_size", 1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// DefaultRegions is used when no region is configured: one ring of three
// peers.
func DefaultRegions() []RegionConfig {
	return []RegionConfig{{
		Name:  "default",
		Peers: []PeerConfig{{Label: "A"}, {Label: "B"}, {Label: "C"}},
	}}
}

// DefaultConfig returns the configuration produced by an empty config file.
func DefaultConfig() *Config {
	cfg, err := ConfigFromViper(viper.New())
	if err != nil {
		// defaults are always valid
		panic(err)
	}
	return cfg
}

/* Function: 	LoadConfig
 *
 * Description:
 * 		Read the YAML file at path (or ./config.yaml when path is empty and
 * 		the file exists), apply RINGKV_* environment overrides and defaults.
 */
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if err := ReadConfigFile(v, path); err != nil {
		return nil, err
	}
	return ConfigFromViper(v)
}

// ReadConfigFile loads path into v. A missing ./config.yaml is not an error
// when path is empty.
func ReadConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// ConfigFromViper decodes and validates a configuration from v. Flags bound
// to v by the CLI take part in the lookup.
func ConfigFromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = DefaultRegions()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first problem found in the configuration.
func (c *Config) Validate() error {
	if c.Replicas < 0 || c.Fallback < 0 || c.MaxHops < 0 {
		return fmt.Errorf("config: replicas, fallback and max_hops must not be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive")
	}

	regions := make(map[string]bool)
	for i, r := range c.Regions {
		if r.Name == "" {
			return fmt.Errorf("config: region %d has no name", i)
		}
		if regions[r.Name] {
			return fmt.Errorf("config: duplicate region %q", r.Name)
		}
		regions[r.Name] = true

		if len(r.Peers) == 0 {
			return fmt.Errorf("config: region %q has no peers", r.Name)
		}
		labels := make(map[string]bool)
		for _, p := range r.Peers {
			if p.Label == "" {
				return fmt.Errorf("config: region %q has a peer without label", r.Name)
			}
			if labels[p.Label] {
				return fmt.Errorf("config: region %q: duplicate peer %q", r.Name, p.Label)
			}
			labels[p.Label] = true
		}
	}
	return nil
}

// PeerOptions returns the request path settings shared by all peers.
func (c *Config) PeerOptions() PeerOptions {
	return PeerOptions{Replicas: c.Replicas, Fallback: c.Fallback, MaxHops: c.MaxHops}
}

// ConfigureLogging applies the log section to the standard logrus logger.
func ConfigureLogging(c LogConfig) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log.SetLevel(level)

	switch c.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	default:
		return fmt.Errorf("config: unknown log format %q", c.Format)
	}
	return nil
}
