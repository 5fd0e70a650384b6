package model

import (
	"fmt"
	"time"
)

// Config holds the complete patfam configuration
type Config struct {
	HTTP       HTTPConfig            `yaml:"http" mapstructure:"http"`
	Run        RunConfig             `yaml:"run" mapstructure:"run"`
	Retry      RetryConfig           `yaml:"retry" mapstructure:"retry"`
	Rates      map[string]RateConfig `yaml:"rates" mapstructure:"rates"`
	Expansion  ExpansionConfig       `yaml:"expansion" mapstructure:"expansion"`
	Seed       SeedConfig            `yaml:"seed" mapstructure:"seed"`
	Subset     SubsetConfig          `yaml:"subset" mapstructure:"subset"`
	Enrichment EnrichmentConfig      `yaml:"enrichment" mapstructure:"enrichment"`
	Merge      MergeConfig           `yaml:"merge" mapstructure:"merge"`
	Comparison ComparisonConfig      `yaml:"comparison" mapstructure:"comparison"`
	Cache      CacheConfig           `yaml:"cache" mapstructure:"cache"`
	Sources    SourcesConfig         `yaml:"sources" mapstructure:"sources"`
	Log        LogConfig             `yaml:"log" mapstructure:"log"`
	Metrics    MetricsConfig         `yaml:"metrics" mapstructure:"metrics"`
}

// HTTPConfig configures the shared HTTP transport of the source adapters
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	HTTPProxy    string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy   string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy      string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// RunConfig bounds one aggregation run
type RunConfig struct {
	MaxDepth    int           `yaml:"max_depth" mapstructure:"max_depth"`       // Family expansion depth (1 = direct family)
	Deadline    time.Duration `yaml:"deadline" mapstructure:"deadline"`         // Global run deadline
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"` // Per lookup, must be < Deadline
}

// RetryConfig controls retries of transient source failures
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
}

// RateConfig is the outbound budget of one source
type RateConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MinInterval   time.Duration `yaml:"min_interval" mapstructure:"min_interval"`
}

// ExpansionConfig sizes the root expansion pool
type ExpansionConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// SeedConfig controls seed discovery
type SeedConfig struct {
	RootJurisdictions []string `yaml:"root_jurisdictions" mapstructure:"root_jurisdictions"` // Empty accepts every jurisdiction
	MaxRoots          int      `yaml:"max_roots" mapstructure:"max_roots"`                   // 0 = unlimited
	UseSynonyms       bool     `yaml:"use_synonyms" mapstructure:"use_synonyms"`
	MaxSynonymTerms   int      `yaml:"max_synonym_terms" mapstructure:"max_synonym_terms"`
	Exhaustive        bool     `yaml:"exhaustive" mapstructure:"exhaustive"` // Year/assignee/formulation sweeps
}

// SubsetConfig selects the target jurisdiction view
type SubsetConfig struct {
	Jurisdiction string `yaml:"jurisdiction" mapstructure:"jurisdiction"`
	Sweep        bool   `yaml:"sweep" mapstructure:"sweep"` // Query non-search sources directly for the jurisdiction
}

// EnrichmentConfig controls detail lookups for the target jurisdiction
type EnrichmentConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	MaxDetails int  `yaml:"max_details" mapstructure:"max_details"`
}

// MergeConfig holds the scalar field precedence, highest first
type MergeConfig struct {
	Precedence []SourceKind `yaml:"precedence" mapstructure:"precedence"`
}

// ComparisonConfig describes the external baseline
type ComparisonConfig struct {
	Baseline       string `yaml:"baseline" mapstructure:"baseline"`
	ExpectedRoots  int    `yaml:"expected_roots" mapstructure:"expected_roots"`
	ExpectedSubset int    `yaml:"expected_subset" mapstructure:"expected_subset"`
}

// CacheConfig configures the lookup cache
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Backend     string        `yaml:"backend" mapstructure:"backend"` // memory, disk, layered, redis
	TTL         time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Dir         string        `yaml:"dir" mapstructure:"dir"`
	RedisAddr   string        `yaml:"redis_addr,omitempty" mapstructure:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix,omitempty" mapstructure:"redis_prefix"`
}

// SourcesConfig configures the source adapters
type SourcesConfig struct {
	SerpAPI SerpAPIConfig `yaml:"serpapi" mapstructure:"serpapi"`
	INPI    INPIConfig    `yaml:"inpi" mapstructure:"inpi"`
	EPO     EPOConfig     `yaml:"epo" mapstructure:"epo"`
	PubChem PubChemConfig `yaml:"pubchem" mapstructure:"pubchem"`
}

// SerpAPIConfig configures the Google Patents search engine adapter
type SerpAPIConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	BaseURL string   `yaml:"base_url" mapstructure:"base_url"`
	Keys    []string `yaml:"keys,omitempty" mapstructure:"keys"` // Prefer SERPAPI_KEYS
	Results int      `yaml:"results" mapstructure:"results"`
	// Citations and similar documents in this jurisdiction are kept as records.
	// Empty follows subset.jurisdiction.
	RelatedJurisdiction string `yaml:"related_jurisdiction,omitempty" mapstructure:"related_jurisdiction"`
}

// INPIConfig configures the Brazilian patent office adapter
type INPIConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	CrawlerURL string `yaml:"crawler_url" mapstructure:"crawler_url"`
	PortalURL  string `yaml:"portal_url" mapstructure:"portal_url"`
}

// EPOConfig configures the EPO Open Patent Services adapter
type EPOConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key,omitempty" mapstructure:"key"`       // Prefer EPO_OPS_KEY
	Secret  string `yaml:"secret,omitempty" mapstructure:"secret"` // Prefer EPO_OPS_SECRET
}

// PubChemConfig configures the synonym resolver
type PubChemConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// LogConfig configures the structured logger
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json, console
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" mapstructure:"addr"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:      45 * time.Second,
			UserAgent:    "patfam/0.3 (+https://github.com/ppiankov/patfam)",
			MaxBodyBytes: 8 << 20,
		},
		Run: RunConfig{
			MaxDepth:    1,
			Deadline:    10 * time.Minute,
			CallTimeout: 60 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    8 * time.Second,
		},
		Rates: map[string]RateConfig{
			"serpapi": {MaxConcurrent: 4, MinInterval: 300 * time.Millisecond},
			"inpi":    {MaxConcurrent: 1, MinInterval: 1500 * time.Millisecond},
			"epo":     {MaxConcurrent: 2, MinInterval: 500 * time.Millisecond},
			"pubchem": {MaxConcurrent: 1, MinInterval: 200 * time.Millisecond},
		},
		Expansion: ExpansionConfig{Workers: 8},
		Seed: SeedConfig{
			RootJurisdictions: []string{"WO"},
			UseSynonyms:       true,
			MaxSynonymTerms:   15,
		},
		Subset:     SubsetConfig{Jurisdiction: "BR", Sweep: true},
		Enrichment: EnrichmentConfig{Enabled: true, MaxDetails: 50},
		Merge: MergeConfig{
			Precedence: []SourceKind{SourcePatentData, SourcePatentOffice, SourceSearchEngine},
		},
		Comparison: ComparisonConfig{
			Baseline:       "Cortellis",
			ExpectedRoots:  7,
			ExpectedSubset: 8,
		},
		Cache: CacheConfig{
			Enabled:     true,
			Backend:     "layered",
			TTL:         24 * time.Hour,
			Dir:         ".patfam-cache",
			RedisPrefix: "patfam:",
		},
		Sources: SourcesConfig{
			SerpAPI: SerpAPIConfig{
				Enabled: true,
				BaseURL: "https://serpapi.com/search.json",
				Results: 50,
			},
			INPI: INPIConfig{
				Enabled:    true,
				CrawlerURL: "https://crawler3-production.up.railway.app",
				PortalURL:  "https://busca.inpi.gov.br",
			},
			EPO: EPOConfig{
				Enabled: true,
				BaseURL: "https://ops.epo.org",
			},
			PubChem: PubChemConfig{
				Enabled: true,
				BaseURL: "https://pubchem.ncbi.nlm.nih.gov",
			},
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Run.MaxDepth < 0 {
		return fmt.Errorf("run.max_depth must be >= 0, got %d", c.Run.MaxDepth)
	}
	if c.Run.Deadline > 0 && c.Run.CallTimeout >= c.Run.Deadline {
		return fmt.Errorf("run.call_timeout (%v) must be shorter than run.deadline (%v)", c.Run.CallTimeout, c.Run.Deadline)
	}
	if c.Expansion.Workers < 1 {
		return fmt.Errorf("expansion.workers must be >= 1, got %d", c.Expansion.Workers)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	for name, r := range c.Rates {
		if r.MaxConcurrent < 0 || r.MinInterval < 0 {
			return fmt.Errorf("rates.%s: negative budget", name)
		}
	}
	return nil
}
