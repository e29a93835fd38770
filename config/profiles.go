package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Profile tunes rule execution for one aggregate kind, overriding the
// global rules configuration.
type Profile struct {
	MaxCascadeRuns int    `toml:"max_cascade_runs"` // Cascade cap for the kind; 0 keeps the global value
	RunTimeout     string `toml:"run_timeout"`      // Go duration string, e.g. "5s"; blank keeps the global value
}

// Timeout parses the profile's run timeout. Blank is zero, meaning no
// override.
func (p Profile) Timeout() (time.Duration, error) {
	if p.RunTimeout == "" {
		return 0, nil
	}

	return time.ParseDuration(p.RunTimeout)
}

// Profiles is a set of per-kind rule tunings keyed by aggregate kind.
type Profiles map[string]Profile

// LoadProfiles reads per-kind rule profiles from a TOML file.
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file %s: %w", path, err)
	}

	var file struct {
		Profiles map[string]Profile `toml:"profiles"`
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file %s: %w", path, err)
	}

	profiles := Profiles(file.Profiles)
	if err := profiles.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profiles file %s: %w", path, err)
	}

	return profiles, nil
}

// Validate checks every profile. Errors name the offending kind and field.
func (p Profiles) Validate() error {
	var errs []error
	for kind, profile := range p {
		if profile.MaxCascadeRuns < 0 {
			errs = append(errs, fmt.Errorf("profiles.%s.max_cascade_runs: must not be negative", kind))
		}
		if _, err := profile.Timeout(); err != nil {
			errs = append(errs, fmt.Errorf("profiles.%s.run_timeout: %w", kind, err))
		}
	}

	return errors.Join(errs...)
}
