package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/lookup"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "addrcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.NormalizeTimeout())
	assert.Equal(t, lookup.DriverPostgres, cfg.Lookup.Driver)
	require.NoError(t, cfg.BenchConfig().Validate())
	assert.Equal(t, "Warszawa", cfg.ProbeRow().City)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
concurrency: 12
normalize:
  endpoint: http://localhost:8080/normalize
  timeout: 5s
  threshold: 0.9
lookup:
  driver: sqlite3
  dsn: file:ref.db
  query: SELECT * FROM addresses WHERE City = @City
  timeout: 2s
  field_mapping:
    city: Town
bench:
  ladder: [1, 2, 4]
  pause: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.NormalizeTimeout())
	assert.InDelta(t, 0.9, cfg.Normalize.Threshold, 1e-9)

	lc, err := cfg.LookupConfig()
	require.NoError(t, err)
	assert.Equal(t, lookup.DriverSQLite, lc.Driver)
	assert.Equal(t, 2*time.Second, lc.Timeout)
	assert.Equal(t, map[address.FieldName]string{address.City: "Town"}, lc.FieldMapping)

	bc := cfg.BenchConfig()
	assert.Equal(t, []int{1, 2, 4}, bc.Ladder)
	assert.Equal(t, 250*time.Millisecond, bc.Pause)
	assert.Equal(t, 500, bc.RefineSamples, "unset keys keep their defaults")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvEndpoint, "http://env/normalize")
	t.Setenv(EnvDSN, "postgres://env")

	cfg, err := Load(writeConfig(t, "normalize:\n  endpoint: http://file/normalize\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://env/normalize", cfg.Normalize.Endpoint)
	assert.Equal(t, "postgres://env", cfg.Lookup.DSN)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Concurrency, cfg.Concurrency)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "concurency: 4\n"},
		{"zero concurrency", "concurrency: 0\n"},
		{"threshold range", "normalize:\n  threshold: 1.5\n"},
		{"bad duration", "normalize:\n  timeout: soon\n"},
		{"negative duration", "bench:\n  pause: -1s\n"},
		{"unknown mapped field", "lookup:\n  field_mapping:\n    Country: Land\n"},
		{"unknown probe field", "bench:\n  probe:\n    Country: PL\n"},
		{"not yaml", "concurrency: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLookupConfigRequiresDSNAndQuery(t *testing.T) {
	cfg := Default()

	_, err := cfg.LookupConfig()
	assert.ErrorContains(t, err, "dsn")

	cfg.Lookup.DSN = "file:ref.db"

	_, err = cfg.LookupConfig()
	assert.ErrorContains(t, err, "query")
}
