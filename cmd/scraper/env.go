package main

import (
	"errors"
	"time"

	"github.com/aluiziolira/go-scrape-stations/config"
)

// applyEnv overlays environment settings on cfg. Flags parsed afterwards take
// precedence because they default to the values set here.
func applyEnv(cfg *config.Config) error {
	var errs []error

	strs := map[string]*string{
		"STATIONS_BASE_URL":       &cfg.BaseURL,
		"STATIONS_REGIONS_FILE":   &cfg.RegionsFile,
		"STATIONS_COMPLETED_FILE": &cfg.CompletedFile,
		"STATIONS_PARTIAL_FILE":   &cfg.PartialFile,
		"STATIONS_FAILED_FILE":    &cfg.FailedFile,
		"STATIONS_OUTPUT":         &cfg.OutputFile,
		"STATIONS_FORMAT":         &cfg.OutputFormat,
		"STATIONS_USER_AGENT":     &cfg.UserAgent,
		"STATIONS_METRICS_ADDR":   &cfg.MetricsAddr,
		"PG_DSN":                  &cfg.PostgresDSN,
		"PG_SCHEMA":               &cfg.PGSchema,
	}
	for key, dst := range strs {
		if v, ok := config.EnvString(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"STATIONS_WORKERS":          &cfg.Workers,
		"STATIONS_MAX_RETRIES":      &cfg.MaxRetries,
		"STATIONS_SESSION_ATTEMPTS": &cfg.SessionAttempts,
		"STATIONS_DEDUPE_CACHE":     &cfg.DedupeCacheSize,
	}
	for key, dst := range ints {
		v, ok, err := config.EnvInt(key)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"STATIONS_TIMEOUT":         &cfg.Timeout,
		"STATIONS_SESSION_MAX_AGE": &cfg.SessionMaxAge,
		"STATIONS_DELAY_MIN":       &cfg.DelayMin,
		"STATIONS_DELAY_MAX":       &cfg.DelayMax,
		"STATIONS_REPORT_INTERVAL": &cfg.ReportInterval,
	}
	for key, dst := range durations {
		v, ok, err := config.EnvDuration(key)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			*dst = v
		}
	}

	if v, ok, err := config.EnvFloat("STATIONS_RPS"); err != nil {
		errs = append(errs, err)
	} else if ok {
		cfg.RequestRPS = v
	}
	if v, ok, err := config.EnvBool("PG_VIA_BOUNCER"); err != nil {
		errs = append(errs, err)
	} else if ok {
		cfg.PGViaBouncer = v
	}
	if v, ok := config.EnvList("STATIONS_PROXIES"); ok {
		cfg.ProxyURLs = v
	}
	if v, ok := config.EnvList("STATIONS_EXCLUDED"); ok {
		cfg.ExcludedJurisdictions = v
	}
	if _, ok := config.EnvString("STATIONS_VERBOSE"); ok {
		cfg.Verbose = true
	}

	return errors.Join(errs...)
}
