package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)
	if d := config.Diff(cfg, cfg); !d.IsZero() {
		t.Errorf("Diff of identical configs = %+v, want zero", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLevel   bool
		wantExtract bool
		wantRestart []string
	}{
		{
			name:      "log level",
			mutate:    func(c *config.Config) { c.LogLevel = config.LogWarn },
			wantLevel: true,
		},
		{
			name:        "fuzzy genus",
			mutate:      func(c *config.Config) { c.Extraction.FuzzyGenus = false },
			wantExtract: true,
		},
		{
			name:        "store dsn",
			mutate:      func(c *config.Config) { c.Store.DSN = "postgres://other/nidus" },
			wantRestart: []string{"store"},
		},
		{
			name: "sync and telemetry",
			mutate: func(c *config.Config) {
				c.Sync.Breaker.ResetTimeout = time.Hour
				c.Telemetry.ListenAddr = ":9999"
			},
			wantRestart: []string{"sync", "telemetry"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := mustLoad(t, sampleYAML)
			updated := mustLoad(t, sampleYAML)
			tt.mutate(updated)

			d := config.Diff(old, updated)
			if d.LogLevelChanged != tt.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.wantLevel)
			}
			if tt.wantLevel && d.NewLogLevel != updated.LogLevel {
				t.Errorf("NewLogLevel = %q, want %q", d.NewLogLevel, updated.LogLevel)
			}
			if d.ExtractionChanged != tt.wantExtract {
				t.Errorf("ExtractionChanged = %v, want %v", d.ExtractionChanged, tt.wantExtract)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
		})
	}
}
