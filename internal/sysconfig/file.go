package sysconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// loadFile reads a TOML config file. Keys that are absent keep their
// default; unknown keys are an error so typos do not go unnoticed.
func loadFile(path string) (SystemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SystemConfig{}, fmt.Errorf("read config file: %w", err)
	}

	var probe SystemConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&probe); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return SystemConfig{}, fmt.Errorf("config file %s: %s", path, strict.String())
		}
		return SystemConfig{}, fmt.Errorf("config file %s: %w", path, err)
	}

	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return SystemConfig{}, fmt.Errorf("config file %s: %w", path, err)
	}
	cfg, err := overlay(Defaults(), tree)
	if err != nil {
		return SystemConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return SystemConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// MarshalTOML renders cfg in the config file format.
func MarshalTOML(cfg SystemConfig) ([]byte, error) {
	return toml.Marshal(cfg)
}
