// Package config is the node's operational configuration DSL: listen
// address, seed, watermark tuning, and detector timing. It is adapted
// from the teacher's gateway config DSL (pkg/config/dsl.go in
// ChrisforCrystal-mas-apigateway), trading gateway listener/route/cluster
// shapes for membership-node tuning.
package config

// Config is the root of a node's YAML configuration file.
type Config struct {
	ListenAddress string            `yaml:"listen_address"`
	SeedAddress   string            `yaml:"seed_address,omitempty"`
	Metadata      map[string]string `yaml:"metadata,omitempty"`

	Watermark Watermark `yaml:"watermark"`
	Detector  Detector  `yaml:"detector"`
	LogLevel  string    `yaml:"log_level,omitempty"`

	LogProposals bool `yaml:"log_proposals,omitempty"`

	SeedDiscovery *SeedDiscovery `yaml:"seed_discovery,omitempty"`
}

// Watermark holds the K/H/L parameters. Fixed for a configuration's
// lifetime per spec.md §4.1 — the Watcher refuses to apply changes to
// these across a hot reload (see watcher.go).
type Watermark struct {
	K int `yaml:"k"`
	H int `yaml:"h"`
	L int `yaml:"l"`
}

// Detector holds the failure-detector tick cadence and probe deadline, in
// seconds. Both are safe to hot-reload.
type Detector struct {
	ProbePeriodSeconds  float64 `yaml:"probe_period_seconds"`
	ProbeTimeoutSeconds float64 `yaml:"probe_timeout_seconds"`
	FailureThreshold    int     `yaml:"failure_threshold"`
}

// SeedDiscovery configures the optional Kubernetes-backed seed discovery
// source (internal/seeddiscovery), which watches an EndpointSlice for a
// headless service and surfaces pod IPs as join candidates.
type SeedDiscovery struct {
	Enabled     bool   `yaml:"enabled"`
	Namespace   string `yaml:"namespace"`
	ServiceName string `yaml:"service_name"`
}

// Defaults returns the spec.md §6.3 default tuning.
func Defaults() Config {
	return Config{
		Watermark: Watermark{K: 10, H: 8, L: 1},
		Detector:  Detector{ProbePeriodSeconds: 1, ProbeTimeoutSeconds: 1, FailureThreshold: 5},
		LogLevel:  "info",
	}
}
