package replica

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.ID = "0000"
		cfg.Peers = []string{"0001", "0002"}
		return cfg
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validateConfig(valid()))
	})

	t.Run("missing ID", func(t *testing.T) {
		cfg := valid()
		cfg.ID = ""
		err := validateConfig(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "ID")
	})

	t.Run("broadcast ID", func(t *testing.T) {
		cfg := valid()
		cfg.ID = "FFFF"
		assert.Error(t, validateConfig(cfg))
	})

	t.Run("self in peer list", func(t *testing.T) {
		cfg := valid()
		cfg.Peers = []string{"0001", "0000"}
		assert.Error(t, validateConfig(cfg))
	})

	t.Run("inverted timeout bounds", func(t *testing.T) {
		cfg := valid()
		cfg.MaxElectionTimeout = cfg.MinElectionTimeout - time.Millisecond
		assert.Error(t, validateConfig(cfg))
	})

	t.Run("heartbeat not below election timeout", func(t *testing.T) {
		cfg := valid()
		cfg.HeartbeatInterval = cfg.MinElectionTimeout
		assert.Error(t, validateConfig(cfg))
	})
}

func TestElectionTimeoutDraw(t *testing.T) {
	cfg := DefaultConfig()
	for i := 0; i < 1000; i++ {
		d := cfg.electionTimeout()
		assert.GreaterOrEqual(t, d, cfg.MinElectionTimeout)
		assert.LessOrEqual(t, d, cfg.MaxElectionTimeout)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	content := `
min_election_timeout_ms: 100
max_election_timeout_ms: 200
heartbeat_interval_ms: 10
debug: true
endpoints:
  "0000": tcp://127.0.0.1:7000
  "0001": tcp://127.0.0.1:7001
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, LoadConfigFile(path, cfg))

	assert.Equal(t, 100*time.Millisecond, cfg.MinElectionTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.MaxElectionTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.HeartbeatInterval)
	// Absent fields keep their defaults.
	assert.Equal(t, 100*time.Millisecond, cfg.ReceiveQuantum)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "tcp://127.0.0.1:7001", cfg.Endpoints["0001"])
}

func TestLoadConfigFileErrors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"), cfg))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))
	assert.Error(t, LoadConfigFile(path, cfg))
}
