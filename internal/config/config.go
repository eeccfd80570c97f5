// Package config loads the standalone relay binary's configuration
// from defaults, an optional YAML file, and RELAYSIM_ environment
// variables, in that precedence order.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrNoListenAddr is returned when the listen address ends up empty.
var ErrNoListenAddr = errors.New("listen address must not be empty")

// Config is the standalone binary's configuration.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":7777".
	Listen string `koanf:"listen"`

	// Intercept lists the relay URL patterns the simulator answers
	// for. Defaults to everything.
	Intercept []string `koanf:"intercept"`

	// Passthrough proxies connections for unmatched relay URLs to the
	// real relay instead of refusing them.
	Passthrough bool `koanf:"passthrough"`

	// Verbose enables debug logging of every frame.
	Verbose bool `koanf:"verbose"`

	// Seed is an optional path to a JSON file holding an array of
	// events to pre-load into the store.
	Seed string `koanf:"seed"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:    ":7777",
		Intercept: []string{"*"},
	}
}

// Load builds a Config by layering defaults, an optional YAML file,
// and RELAYSIM_ environment variables (RELAYSIM_LISTEN,
// RELAYSIM_VERBOSE, ...). An empty path skips the file layer unless
// RELAYSIM_CONFIG names one.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv("RELAYSIM_CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	envProvider := env.Provider("RELAYSIM_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "relaysim_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.Listen == "" {
		return nil, ErrNoListenAddr
	}
	if len(cfg.Intercept) == 0 {
		cfg.Intercept = []string{"*"}
	}
	return &cfg, nil
}
