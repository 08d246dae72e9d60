package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"switchboard/internal/model"
)

// RateLimitRule bounds how many actions of a given severity a
// (tenant, tool, severity) window may allow before the policy engine
// starts denying with policy:rate-limit.
type RateLimitRule struct {
	WindowSeconds int `yaml:"window_seconds"`
	Limit         int `yaml:"limit"`
}

// RateLimitConfig holds one rule per severity plus a default fallback,
// mirroring the Python original's RateLimitConfig dataclass.
type RateLimitConfig struct {
	Default RateLimitRule `yaml:"default"`
	P0      RateLimitRule `yaml:"p0"`
	P1      RateLimitRule `yaml:"p1"`
	P2      RateLimitRule `yaml:"p2"`
}

// RuleFor resolves the rate-limit rule for a severity, falling back to
// Default when a severity-specific one isn't configured (Limit == 0).
func (c RateLimitConfig) RuleFor(severity model.ActionSeverity) RateLimitRule {
	var rule RateLimitRule
	switch severity {
	case model.SeverityP0:
		rule = c.P0
	case model.SeverityP1:
		rule = c.P1
	case model.SeverityP2:
		rule = c.P2
	}
	if rule.Limit == 0 {
		return c.Default
	}
	return rule
}

// SensitivityConfig names the sensitivity tags that always trigger the
// PII/tag approval gate, regardless of the request's PII flag.
type SensitivityConfig struct {
	RequiresApprovalTags []string `yaml:"requires_approval_tags"`
}

// Config is the full YAML policy configuration, loaded from the path
// named by SWITCHBOARD_POLICY_CONFIG.
type Config struct {
	RateLimits  RateLimitConfig   `yaml:"rate_limits"`
	Sensitivity SensitivityConfig `yaml:"sensitivity"`
}

// DefaultConfig returns sane defaults so the engine runs without any
// policy file configured, mirroring the teacher's
// internal/policy/loader.go DefaultConfig() idiom.
func DefaultConfig() Config {
	return Config{
		RateLimits: RateLimitConfig{
			Default: RateLimitRule{WindowSeconds: 60, Limit: 30},
			P0:      RateLimitRule{WindowSeconds: 60, Limit: 2},
			P1:      RateLimitRule{WindowSeconds: 60, Limit: 10},
			P2:      RateLimitRule{WindowSeconds: 60, Limit: 30},
		},
		Sensitivity: SensitivityConfig{
			RequiresApprovalTags: []string{"pii", "financial", "credentials"},
		},
	}
}

// LoadFile reads and parses a policy config file, expanding ${VAR}-style
// environment placeholders in the raw text before YAML parsing — exactly
// the teacher's policy.Load order of operations, so operators can write
// "${SWITCHBOARD_P0_LIMIT}" into a committed config file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("policy: read config file: %w", err)
	}
	return Load(data)
}

// Load parses raw YAML bytes into a Config after env-var expansion.
func Load(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("policy: parse config: %w", err)
	}
	return cfg, nil
}
