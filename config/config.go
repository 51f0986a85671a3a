package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL         string
	SearchPath      string
	GraphQLPath     string
	BootstrapRegion string
	StateMarker     string
	TokenHeader     string
	TokenCookie     string
	OperationName   string
	FuelType        int
	Language        string

	RegionsFile   string
	CompletedFile string
	PartialFile   string
	FailedFile    string
	OutputFile    string
	OutputFormat  string // csv, json, or dual

	Workers         int
	ProxyURLs       []string
	Timeout         time.Duration
	RequestRPS      float64
	SessionMaxAge   time.Duration
	SessionAttempts int

	MaxRetries          int
	DelayMin            time.Duration
	DelayMax            time.Duration
	RateLimitBackoffMin time.Duration
	RateLimitBackoffMax time.Duration
	RetryBackoffMin     time.Duration
	RetryBackoffMax     time.Duration

	ExcludedJurisdictions []string
	DedupeCacheSize       int
	ReportInterval        time.Duration

	UserAgent   string
	MetricsAddr string
	PostgresDSN string
	PGSchema    string

	// PGViaBouncer selects the simple query protocol for transaction-pooling
	// proxies such as PgBouncer.
	PGViaBouncer bool
	Verbose      bool
}

// CanadianProvinces are mixed into US postal searches by the provider.
var CanadianProvinces = []string{"AB", "BC", "MB", "NB", "NL", "NT", "NS", "NU", "ON", "PE", "QC", "SK", "YT"}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         "https://www.gasbuddy.com",
		SearchPath:      "/home",
		GraphQLPath:     "/graphql",
		BootstrapRegion: "10001",
		StateMarker:     "window.__APOLLO_STATE__",
		TokenHeader:     "gbcsrf",
		TokenCookie:     "gbcsrf",
		OperationName:   "LocationBySearchTerm",
		FuelType:        1,
		Language:        "en",

		RegionsFile:   "zips.txt",
		CompletedFile: "completed_zips.txt",
		PartialFile:   "partial_zips.txt",
		FailedFile:    "failed_zips.txt",
		OutputFile:    "data/stations.csv",
		OutputFormat:  "csv",

		Workers:         10,
		Timeout:         20 * time.Second,
		SessionMaxAge:   25 * time.Minute,
		SessionAttempts: 3,

		MaxRetries:          3,
		DelayMin:            1500 * time.Millisecond,
		DelayMax:            3500 * time.Millisecond,
		RateLimitBackoffMin: 10 * time.Second,
		RateLimitBackoffMax: 20 * time.Second,
		RetryBackoffMin:     3 * time.Second,
		RetryBackoffMax:     7 * time.Second,

		ExcludedJurisdictions: append([]string(nil), CanadianProvinces...),
		DedupeCacheSize:       200000,
		ReportInterval:        30 * time.Second,

		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		PGSchema:  "public",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	for _, raw := range c.ProxyURLs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy URL must include a host")
		}
	}

	if c.StateMarker == "" {
		return fmt.Errorf("state marker cannot be empty")
	}
	if c.TokenHeader == "" {
		return fmt.Errorf("token header cannot be empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RequestRPS < 0 {
		return fmt.Errorf("request rps cannot be negative")
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("session max age must be positive")
	}
	if c.SessionAttempts <= 0 {
		return fmt.Errorf("session attempts must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if err := validateWindow("delay", c.DelayMin, c.DelayMax); err != nil {
		return err
	}
	if err := validateWindow("rate limit backoff", c.RateLimitBackoffMin, c.RateLimitBackoffMax); err != nil {
		return err
	}
	if err := validateWindow("retry backoff", c.RetryBackoffMin, c.RetryBackoffMax); err != nil {
		return err
	}
	if c.RegionsFile == "" {
		return fmt.Errorf("regions file cannot be empty")
	}
	if c.CompletedFile == "" || c.FailedFile == "" || c.PartialFile == "" {
		return fmt.Errorf("ledger files cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.DedupeCacheSize <= 0 {
		return fmt.Errorf("dedupe cache size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// Excluded returns the excluded jurisdictions as an upper-cased set.
func (c *Config) Excluded() map[string]struct{} {
	out := make(map[string]struct{}, len(c.ExcludedJurisdictions))
	for _, code := range c.ExcludedJurisdictions {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			out[code] = struct{}{}
		}
	}
	return out
}

func validateWindow(name string, min, max time.Duration) error {
	if min < 0 || max < 0 {
		return fmt.Errorf("%s cannot be negative", name)
	}
	if min > max {
		return fmt.Errorf("%s min (%s) cannot exceed max (%s)", name, min, max)
	}
	return nil
}
