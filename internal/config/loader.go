package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Store
	switch {
	case cfg.Store.Driver != "" && !cfg.Store.Driver.IsValid():
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Store.Driver))
	case cfg.Store.Driver == DriverPostgres && cfg.Store.DSN == "":
		errs = append(errs, errors.New("store.dsn is required when store.driver is postgres"))
	case cfg.Store.Driver == DriverMemory && cfg.Sync.Enabled:
		slog.Warn("store.driver is memory; recordings are lost on restart even though sync is enabled")
	}

	// Extraction
	if !inUnitRange(cfg.Extraction.PhoneticThreshold) {
		errs = append(errs, fmt.Errorf("extraction.phonetic_threshold %.2f is out of range (0, 1]", cfg.Extraction.PhoneticThreshold))
	}
	if !inUnitRange(cfg.Extraction.FuzzyThreshold) {
		errs = append(errs, fmt.Errorf("extraction.fuzzy_threshold %.2f is out of range (0, 1]", cfg.Extraction.FuzzyThreshold))
	}
	if !cfg.Extraction.FuzzyGenus && cfg.Extraction.PhoneticThreshold != 0 && cfg.Extraction.PhoneticThreshold != DefaultPhoneticThreshold {
		slog.Warn("extraction.phonetic_threshold is set but extraction.fuzzy_genus is off; the threshold has no effect")
	}

	// Sync
	if cfg.Sync.Enabled {
		if cfg.Sync.URL == "" {
			errs = append(errs, errors.New("sync.url is required when sync is enabled"))
		} else if u, err := url.Parse(cfg.Sync.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("sync.url %q must be a ws:// or wss:// URL", cfg.Sync.URL))
		} else if u.Scheme == "ws" && cfg.Sync.Token != "" {
			slog.Warn("sync.token will be sent over an unencrypted ws:// connection", "url", cfg.Sync.URL)
		}
	}
	if cfg.Sync.Interval < 0 {
		errs = append(errs, fmt.Errorf("sync.interval %s must not be negative", cfg.Sync.Interval))
	}
	if cfg.Sync.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("sync.concurrency %d must not be negative", cfg.Sync.Concurrency))
	}
	if cfg.Sync.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("sync.breaker.max_failures %d must not be negative", cfg.Sync.Breaker.MaxFailures))
	}
	if cfg.Sync.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("sync.breaker.reset_timeout %s must not be negative", cfg.Sync.Breaker.ResetTimeout))
	}

	return errors.Join(errs...)
}

// inUnitRange accepts zero (unset) and values in (0, 1].
func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
