package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsProduceUsableConfig(t *testing.T) {
	cfg := Defaults()
	require.NotEmpty(t, cfg.Node.ListenAddress)
	require.Greater(t, cfg.MultiChannel.N, 0)
	require.Greater(t, cfg.RateLimit.Throughput, 0.0)
}

func TestLoadMergesPartialFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fabric.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[node]
listen_address = "0.0.0.0:7777"

[rate_limit]
throughput = 500
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:7777", cfg.Node.ListenAddress)
	require.Equal(t, 500.0, cfg.RateLimit.Throughput)
	// Untouched sections still get their defaults.
	require.Equal(t, Defaults().MultiChannel.N, cfg.MultiChannel.N)
	require.Equal(t, Defaults().Metrics.Port, cfg.Metrics.Port)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid toml"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestByteCostFuncResolution(t *testing.T) {
	f, err := ByteCostFunc("byte")
	require.NoError(t, err)
	require.EqualValues(t, 3, f([]byte("abc")))

	f, err = ByteCostFunc("unit")
	require.NoError(t, err)
	require.EqualValues(t, 1, f([]byte("abc")))

	_, err = ByteCostFunc("bogus")
	require.Error(t, err)
}
