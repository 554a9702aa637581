package config

// ConfigDiff describes what changed between two configs. Log level and
// extraction settings apply without a restart; everything listed in
// RestartRequired does not.
type ConfigDiff struct {
	LogLevelChanged   bool
	NewLogLevel       LogLevel
	ExtractionChanged bool

	// RestartRequired names the changed sections that only take effect on
	// the next start, e.g. "store" or "sync".
	RestartRequired []string
}

// IsZero reports whether nothing changed.
func (d ConfigDiff) IsZero() bool {
	return !d.LogLevelChanged && !d.ExtractionChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	d.ExtractionChanged = old.Extraction != new.Extraction

	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Sync != new.Sync {
		d.RestartRequired = append(d.RestartRequired, "sync")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
