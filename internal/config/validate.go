package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/harjula/fitsync-go/internal/schema"
)

// Validate checks every value in the config and returns all problems at
// once, each naming the offending key. Remote URL and anon key may be
// empty — only network commands require them, and they enforce that
// themselves.
func Validate(cfg *Config) error {
	return errors.Join(
		validateRemote(&cfg.Remote),
		validateSync(&cfg.Sync),
		validateLog(&cfg.Log),
	)
}

func validateRemote(rc *RemoteConfig) error {
	if rc.URL == "" {
		return nil
	}

	u, err := url.Parse(rc.URL)
	if err != nil {
		return fmt.Errorf("remote.url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("remote.url: unsupported scheme %q (want http or https)", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("remote.url: %q has no host", rc.URL)
	}

	return nil
}

func validateSync(sc *SyncConfig) error {
	var errs []error

	if d, err := time.ParseDuration(sc.TickInterval); err != nil {
		errs = append(errs, fmt.Errorf("sync.tick_interval: %q is not a duration", sc.TickInterval))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("sync.tick_interval: %q must be positive", sc.TickInterval))
	}

	switch sc.WatermarkColumn {
	case "updated_at", "created_at":
	default:
		errs = append(errs, fmt.Errorf(
			"sync.watermark_column: %q (want \"updated_at\" or \"created_at\")", sc.WatermarkColumn))
	}

	seen := make(map[string]bool, len(sc.Tables))

	for _, name := range sc.Tables {
		if _, ok := schema.ByName(name); !ok {
			errs = append(errs, fmt.Errorf("sync.tables: unknown table %q", name))
			continue
		}

		if seen[name] {
			errs = append(errs, fmt.Errorf("sync.tables: %q listed twice", name))
		}
		seen[name] = true
	}

	return errors.Join(errs...)
}

func validateLog(lc *LogConfig) error {
	var errs []error

	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: %q (want debug, info, warn or error)", lc.Level))
	}

	switch lc.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: %q (want text or json)", lc.Format))
	}

	return errors.Join(errs...)
}
