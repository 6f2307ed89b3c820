package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PolicyProfile represents a risk-class configuration profile: rule presets,
// rate limits and governance delays for one commitment type.
type PolicyProfile struct {
	Name       string           `yaml:"name" json:"name"`
	Code       string           `yaml:"code" json:"code"`
	Rules      RulePreset       `yaml:"rules" json:"rules"`
	RateLimits []RateLimitEntry `yaml:"rate_limits,omitempty" json:"rate_limits,omitempty"`
	Timelock   TimelockConfig   `yaml:"timelock" json:"timelock"`
	Oracle     OracleConfig     `yaml:"oracle" json:"oracle"`
}

// RulePreset holds the default rule parameters offered for the profile.
type RulePreset struct {
	DurationDays     uint32 `yaml:"duration_days" json:"duration_days"`
	MaxLossPercent   uint32 `yaml:"max_loss_percent" json:"max_loss_percent"`
	EarlyExitPenalty uint32 `yaml:"early_exit_penalty" json:"early_exit_penalty"`
	MinFeeThreshold  string `yaml:"min_fee_threshold" json:"min_fee_threshold"`
}

// RateLimitEntry configures one function quota.
type RateLimitEntry struct {
	Function string `yaml:"function" json:"function"`
	WindowMs int    `yaml:"window_ms" json:"window_ms"`
	MaxCalls int    `yaml:"max_calls" json:"max_calls"`
}

// TimelockConfig overrides governance delays per profile.
type TimelockConfig struct {
	MinDelayHours int `yaml:"min_delay_hours" json:"min_delay_hours"`
	MaxDelayHours int `yaml:"max_delay_hours" json:"max_delay_hours"`
}

// OracleConfig bounds price feed freshness for the profile.
type OracleConfig struct {
	MaxStalenessSeconds int `yaml:"max_staleness_seconds" json:"max_staleness_seconds"`
}

// LoadProfile loads a policy profile YAML by risk-class code.
// It searches the profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*PolicyProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile PolicyProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*PolicyProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*PolicyProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile PolicyProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_safe.yaml -> safe
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}
