package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RegionalProfile is an optional, informational jurisdiction posture
// consulted at startup (SPEC_FULL.md §6 CONFIG_PROFILE_PATH). It never
// alters the core state machines — only the operational posture a
// deployment reports (crypto policy, retention window, network mode).
type RegionalProfile struct {
	Name          string              `yaml:"name"`
	Code          string              `yaml:"code"`
	DataResidency string              `yaml:"data_residency"`
	CryptoPolicy  CryptoPolicy        `yaml:"crypto_policy"`
	Retention     RetentionPolicy     `yaml:"retention"`
	Networking    NetworkingPolicy    `yaml:"networking"`
}

// CryptoPolicy records the cryptographic posture a jurisdiction requires.
type CryptoPolicy struct {
	AllowedAlgorithms []string `yaml:"allowed_algorithms"`
	KeyRotationDays   int      `yaml:"key_rotation_days"`
	RequireHSM        bool     `yaml:"require_hsm,omitempty"`
}

// RetentionPolicy records how long audit/packet history must be kept.
type RetentionPolicy struct {
	AuditLogDays int `yaml:"audit_log_days"`
}

// NetworkingPolicy records the outbound networking posture; munin itself
// is air-gapped (spec.md §1), so "island" is the expected value, but the
// profile is still loaded and reported for compliance tooling.
type NetworkingPolicy struct {
	OutboundMode string `yaml:"outbound_mode"` // "allowlist" | "denylist" | "island"
}

// IsIsland reports whether the profile declares a fully air-gapped posture.
func (p *RegionalProfile) IsIsland() bool {
	return p.Networking.OutboundMode == "island"
}

// LoadProfile reads and parses a RegionalProfile YAML document from path.
// Absent CONFIG_PROFILE_PATH, callers should simply skip this — a
// deployment without a profile runs with no additional posture checks.
func LoadProfile(path string) (*RegionalProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read regional profile %q: %w", path, err)
	}
	var profile RegionalProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("config: parse regional profile %q: %w", path, err)
	}
	return &profile, nil
}
