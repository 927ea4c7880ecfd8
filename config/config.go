// Package config loads the addrcheck YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/bench"
	"github.com/weiihann/addrcheck/lookup"
	"github.com/weiihann/addrcheck/workload"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvEndpoint = "ADDRCHECK_ENDPOINT"
	EnvDSN      = "ADDRCHECK_DSN"
)

// Config holds all addrcheck configuration.
type Config struct {
	// Concurrency is the number of rows processed in parallel.
	Concurrency int `yaml:"concurrency"`

	Normalize NormalizeConfig `yaml:"normalize"`
	Lookup    LookupConfig    `yaml:"lookup"`
	Columns   ColumnsConfig   `yaml:"columns"`
	Bench     BenchConfig     `yaml:"bench"`
}

// NormalizeConfig configures the normalization service client.
type NormalizeConfig struct {
	Endpoint  string  `yaml:"endpoint"`
	Timeout   string  `yaml:"timeout"`
	Threshold float64 `yaml:"threshold"`
}

// LookupConfig configures the reference database.
type LookupConfig struct {
	Driver       string            `yaml:"driver"` // postgres, sqlite3
	DSN          string            `yaml:"dsn"`
	Query        string            `yaml:"query"`
	Timeout      string            `yaml:"timeout"`
	MaxOpenConns int               `yaml:"max_open_conns"`
	FieldMapping map[string]string `yaml:"field_mapping"`
}

// ColumnsConfig names the input header for each field. Empty entries fall
// back to the field name for request fields and Expected<Field> for
// expected fields.
type ColumnsConfig struct {
	Request  map[string]string `yaml:"request"`
	Expected map[string]string `yaml:"expected"`
}

// BenchConfig configures the concurrency benchmark.
type BenchConfig struct {
	Ladder         []int   `yaml:"ladder"`
	CoarsePerLevel int     `yaml:"coarse_per_level"`
	CoarseMin      int     `yaml:"coarse_min"`
	CoarseMax      int     `yaml:"coarse_max"`
	RefineSamples  int     `yaml:"refine_samples"`
	RefineTop      int     `yaml:"refine_top"`
	Volume         int     `yaml:"volume"`
	ErrorCeiling   float64 `yaml:"error_ceiling"`
	EfficiencyBand float64 `yaml:"efficiency_band"`
	AbortErrorRate float64 `yaml:"abort_error_rate"`
	Pause          string  `yaml:"pause"`

	Workload string            `yaml:"workload"` // identical, sample
	Seed     int64             `yaml:"seed"`
	Probe    map[string]string `yaml:"probe"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	b := bench.DefaultConfig()

	return Config{
		Concurrency: 8,
		Normalize: NormalizeConfig{
			Timeout:   "30s",
			Threshold: 0.8,
		},
		Lookup: LookupConfig{
			Driver:  lookup.DriverPostgres,
			Timeout: "30s",
		},
		Bench: BenchConfig{
			Ladder:         b.Ladder,
			CoarsePerLevel: b.CoarsePerLevel,
			CoarseMin:      b.CoarseMin,
			CoarseMax:      b.CoarseMax,
			RefineSamples:  b.RefineSamples,
			RefineTop:      b.RefineTop,
			Volume:         b.Volume,
			ErrorCeiling:   b.ErrorCeiling,
			EfficiencyBand: b.EfficiencyBand,
			AbortErrorRate: b.AbortErrorRate,
			Pause:          "0s",
			Workload:       workload.ModeIdentical,
			Probe: map[string]string{
				string(address.StreetPrefix):   "ul.",
				string(address.StreetName):     "Marszałkowska",
				string(address.BuildingNumber): "1",
				string(address.City):           "Warszawa",
				string(address.PostalCode):     "00-624",
			},
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)

		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv(EnvEndpoint); v != "" {
		cfg.Normalize.Endpoint = v
	}

	if v := os.Getenv(EnvDSN); v != "" {
		cfg.Lookup.DSN = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks values that do not depend on the chosen command.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}

	if c.Normalize.Threshold < 0 || c.Normalize.Threshold > 1 {
		return fmt.Errorf("normalize.threshold %v outside [0, 1]", c.Normalize.Threshold)
	}

	for _, d := range []struct{ key, val string }{
		{"normalize.timeout", c.Normalize.Timeout},
		{"lookup.timeout", c.Lookup.Timeout},
		{"bench.pause", c.Bench.Pause},
	} {
		if _, err := parseDuration(d.val); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}

	if _, err := c.FieldMapping(); err != nil {
		return err
	}

	for _, m := range []map[string]string{c.Columns.Request, c.Columns.Expected, c.Bench.Probe} {
		for k := range m {
			if _, err := address.ParseFieldName(k); err != nil {
				return err
			}
		}
	}

	return nil
}

// NormalizeTimeout returns the per-request timeout.
func (c *Config) NormalizeTimeout() time.Duration {
	d, _ := parseDuration(c.Normalize.Timeout)

	return d
}

// LookupConfig converts the lookup section for the lookup package.
func (c *Config) LookupConfig() (lookup.Config, error) {
	if c.Lookup.DSN == "" {
		return lookup.Config{}, errors.New("lookup.dsn is required")
	}

	if c.Lookup.Query == "" {
		return lookup.Config{}, errors.New("lookup.query is required")
	}

	mapping, err := c.FieldMapping()
	if err != nil {
		return lookup.Config{}, err
	}

	timeout, _ := parseDuration(c.Lookup.Timeout)

	return lookup.Config{
		Driver:       c.Lookup.Driver,
		DSN:          c.Lookup.DSN,
		Query:        c.Lookup.Query,
		Timeout:      timeout,
		MaxOpenConns: c.Lookup.MaxOpenConns,
		FieldMapping: mapping,
	}, nil
}

// FieldMapping returns the validated field → source column overrides.
func (c *Config) FieldMapping() (map[address.FieldName]string, error) {
	out := make(map[address.FieldName]string, len(c.Lookup.FieldMapping))

	for k, v := range c.Lookup.FieldMapping {
		f, err := address.ParseFieldName(k)
		if err != nil {
			return nil, fmt.Errorf("lookup.field_mapping: %w", err)
		}

		out[f] = v
	}

	return out, nil
}

// BenchConfig converts the bench section for the bench package.
func (c *Config) BenchConfig() bench.Config {
	pause, _ := parseDuration(c.Bench.Pause)

	return bench.Config{
		Ladder:         c.Bench.Ladder,
		CoarsePerLevel: c.Bench.CoarsePerLevel,
		CoarseMin:      c.Bench.CoarseMin,
		CoarseMax:      c.Bench.CoarseMax,
		RefineSamples:  c.Bench.RefineSamples,
		RefineTop:      c.Bench.RefineTop,
		Volume:         c.Bench.Volume,
		ErrorCeiling:   c.Bench.ErrorCeiling,
		EfficiencyBand: c.Bench.EfficiencyBand,
		AbortErrorRate: c.Bench.AbortErrorRate,
		Pause:          pause,
	}
}

// ProbeRow builds the identical-mode probe request.
func (c *Config) ProbeRow() address.Row {
	var row address.Row

	for k, v := range c.Bench.Probe {
		f, err := address.ParseFieldName(k)
		if err != nil {
			continue
		}

		switch f {
		case address.StreetName:
			row.StreetName = v
		case address.StreetPrefix:
			row.StreetPrefix = v
		case address.BuildingNumber:
			row.BuildingNumber = v
		case address.City:
			row.City = v
		case address.PostalCode:
			row.PostalCode = v
		}
	}

	return row
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", s)
	}

	return d, nil
}
