package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Bot.Token == "" {
		errs = append(errs, errors.New("bot.token is required"))
	}

	if cfg.Pool.DefaultSearch != "" && !slices.Contains(validSearchPrefixes, cfg.Pool.DefaultSearch) {
		errs = append(errs, fmt.Errorf("pool.default_search %q is invalid; valid values: ytsearch, ytmsearch, scsearch", cfg.Pool.DefaultSearch))
	}

	if len(cfg.Nodes) == 0 {
		errs = append(errs, errors.New("at least one node is required"))
	}

	idsSeen := make(map[string]int, len(cfg.Nodes))
	for i, node := range cfg.Nodes {
		prefix := fmt.Sprintf("nodes[%d]", i)
		if node.Identifier == "" {
			errs = append(errs, fmt.Errorf("%s.identifier is required", prefix))
		} else {
			if prev, ok := idsSeen[node.Identifier]; ok {
				errs = append(errs, fmt.Errorf("%s.identifier %q is a duplicate of nodes[%d]", prefix, node.Identifier, prev))
			}
			idsSeen[node.Identifier] = i
		}
		if node.Host == "" {
			errs = append(errs, fmt.Errorf("%s.host is required", prefix))
		}
		if node.Port <= 0 || node.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s.port %d is out of range (1, 65535]", prefix, node.Port))
		}
		if node.Password == "" {
			errs = append(errs, fmt.Errorf("%s.password is required", prefix))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %w", errors.Join(errs...))
	}
	return nil
}
