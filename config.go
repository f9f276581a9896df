package fedsync

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/comalice/fedsync/internal/primitives"
)

// LoadFederationConfig reads and validates a federation file.
func LoadFederationConfig(path string) (*primitives.FederationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read federation config: %w", err)
	}
	cfg, err := ParseFederationConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseFederationConfig decodes YAML (or JSON) federation config and
// validates it. Unknown fields are rejected.
func ParseFederationConfig(data []byte) (*primitives.FederationConfig, error) {
	var cfg primitives.FederationConfig
	if err := decodeStrict(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseFederateConfig decodes and validates the config of a single federate.
func ParseFederateConfig(data []byte) (*primitives.FederateConfig, error) {
	var cfg primitives.FederateConfig
	if err := decodeStrict(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty config: %w", primitives.ErrConfig)
		}
		return fmt.Errorf("decode config: %w: %w", primitives.ErrConfig, err)
	}
	return nil
}
