package triage

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// policyFile is the on-disk shape of a triage policy. All fields are
// optional; absent fields keep their defaults.
type policyFile struct {
	InvestigateThreshold *int    `yaml:"investigate_threshold"`
	Cooldown             *string `yaml:"cooldown"`
	MuteTTL              *string `yaml:"mute_ttl"`
	PriorityCap          *int    `yaml:"priority_cap"`
}

// LoadPolicy reads a YAML policy file and overlays it on the defaults.
// An empty path returns the defaults unchanged.
func LoadPolicy(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return cfg, fmt.Errorf("triage policy: read %s: %w", path, err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return cfg, fmt.Errorf("triage policy: parse %s: %w", path, err)
	}

	if pf.InvestigateThreshold != nil {
		cfg.InvestigateThreshold = *pf.InvestigateThreshold
	}
	if pf.Cooldown != nil {
		d, err := time.ParseDuration(*pf.Cooldown)
		if err != nil {
			return cfg, fmt.Errorf("triage policy: cooldown: %w", err)
		}
		cfg.Cooldown = d
	}
	if pf.MuteTTL != nil {
		d, err := time.ParseDuration(*pf.MuteTTL)
		if err != nil {
			return cfg, fmt.Errorf("triage policy: mute_ttl: %w", err)
		}
		cfg.MuteTTL = d
	}
	if pf.PriorityCap != nil {
		cfg.PriorityCap = *pf.PriorityCap
	}

	return cfg, validate(cfg)
}

func validate(cfg Config) error {
	switch {
	case cfg.InvestigateThreshold < 1:
		return fmt.Errorf("triage policy: investigate_threshold %d must be >= 1", cfg.InvestigateThreshold)
	case cfg.Cooldown < 0:
		return fmt.Errorf("triage policy: cooldown must not be negative")
	case cfg.MuteTTL < 0:
		return fmt.Errorf("triage policy: mute_ttl must not be negative")
	case cfg.PriorityCap < 1:
		return fmt.Errorf("triage policy: priority_cap %d must be >= 1", cfg.PriorityCap)
	}
	return nil
}
