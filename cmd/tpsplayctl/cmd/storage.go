package cmd

import (
	"fmt"
	"time"

	"github.com/jmylchreest/tpsplay/internal/config"
	"github.com/jmylchreest/tpsplay/internal/tps/storage"
	"github.com/jmylchreest/tpsplay/pkg/duration"
)

// openStorage loads the Storage façade and the configured timezone
// location from cfg, a small helper shared by every storage-backed
// subcommand.
func openStorage(cfg *config.Config) (*storage.Storage, *time.Location, error) {
	loc, err := time.LoadLocation(cfg.TPS.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("loading timezone %q: %w", cfg.TPS.Timezone, err)
	}

	s, err := storage.Load(storage.Options{
		RecordingsDir:       cfg.TPS.RecordingsPath,
		CacheDir:            cfg.TPS.CacheDir,
		EntryCountOvershoot: cfg.TPS.EntryCountOvershoot,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading master index: %w", err)
	}

	return s, loc, nil
}

// parseSeekTime parses a --time argument either as RFC3339 in loc, or, when
// that fails, as a relative expression ("10 minutes ago", "in 2 hours")
// anchored on the current time in loc. This is the CLI-facing counterpart
// of internal/config.Duration's human-readable parsing, reused here for
// relative seek times instead of config durations.
func parseSeekTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(time.RFC3339, s, loc); err == nil {
		return t, nil
	}
	t, err := duration.ParseRelativeFrom(s, time.Now().In(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("not RFC3339 and not a relative expression: %w", err)
	}
	return t.In(loc), nil
}
