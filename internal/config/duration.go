package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses an optional Go duration at config path. Empty
// means zero; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative, got %s", path, s)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

type durationField struct {
	path string
	raw  string
}

// durationFields lists every duration-valued key for Validate.
func (c *Config) durationFields() []durationField {
	return []durationField{
		{"scheduler.poll_interval", c.Scheduler.PollInterval},
		{"scheduler.stop_timeout", c.Scheduler.StopTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"github.timeout", c.GitHub.Timeout},
		{"analyzer.timeout", c.Analyzer.Timeout},
		{"templates.cache_ttl", c.Templates.CacheTTL},
	}
}
