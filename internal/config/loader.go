package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a node's YAML configuration file, filling in
// spec.md §6.3 defaults for anything the file leaves zero-valued. This
// mirrors the teacher's LoadConfig(path) in pkg/config/loader.go, trading
// its ToProto gateway-snapshot conversion for plain struct defaulting
// since this module has no separate wire DTO for configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Watermark.K == 0 {
		cfg.Watermark = Defaults().Watermark
	}
	if cfg.Detector.ProbePeriodSeconds == 0 {
		cfg.Detector.ProbePeriodSeconds = Defaults().Detector.ProbePeriodSeconds
	}
	if cfg.Detector.ProbeTimeoutSeconds == 0 {
		cfg.Detector.ProbeTimeoutSeconds = Defaults().Detector.ProbeTimeoutSeconds
	}
	if cfg.Detector.FailureThreshold == 0 {
		cfg.Detector.FailureThreshold = Defaults().Detector.FailureThreshold
	}
	return &cfg, nil
}
