package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mbd888/vigil/internal/anomaly"
	"github.com/mbd888/vigil/internal/fraud"
	"github.com/mbd888/vigil/internal/outage"
)

// Detectors holds detector tuning. Fields absent from the file keep their
// built-in defaults.
type Detectors struct {
	Anomaly anomaly.Config `yaml:"anomaly"`
	Outage  outage.Config  `yaml:"outage"`
	Fraud   fraud.Config   `yaml:"fraud"`
}

// DefaultDetectors returns the built-in tuning.
func DefaultDetectors() Detectors {
	return Detectors{
		Anomaly: anomaly.DefaultConfig(),
		Outage:  outage.DefaultConfig(),
		Fraud:   fraud.DefaultConfig(),
	}
}

// LoadDetectors reads a YAML tuning file over the defaults. An empty path
// returns the defaults.
func LoadDetectors(path string) (Detectors, error) {
	d := DefaultDetectors()
	if path == "" {
		return d, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return d, fmt.Errorf("read detectors file: %w", err)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("parse detectors file: %w", err)
	}
	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

// Validate rejects tuning that would make a detector meaningless.
func (d Detectors) Validate() error {
	for metric, t := range d.Anomaly.Thresholds {
		if t <= 0 {
			return fmt.Errorf("anomaly threshold for %s must be positive", metric)
		}
	}
	for i, r := range d.Outage.Rules {
		if r.Metric == "" || r.Label == "" {
			return fmt.Errorf("outage rule %d needs a metric and a label", i)
		}
		if r.Weight <= 0 {
			return fmt.Errorf("outage rule %s must have a positive weight", r.Metric)
		}
	}
	for _, addr := range d.Fraud.Web3.SuspiciousContracts {
		if !isAddress(addr) {
			return fmt.Errorf("invalid suspicious contract %q", addr)
		}
	}
	return nil
}
