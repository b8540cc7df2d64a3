package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadControllerDefaults(t *testing.T) {
	cfg, err := LoadController("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Replicas)
	assert.Equal(t, 6*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 2*time.Second, cfg.CheckInterval)
}

func TestLoadControllerEnvOverrides(t *testing.T) {
	t.Setenv("REPLICAS", "5")
	t.Setenv("HEARTBEAT_TIMEOUT", "10s")
	t.Setenv("CHECK_INTERVAL", "1")

	cfg, err := LoadController("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Replicas)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, time.Second, cfg.CheckInterval)
}

func TestLoadWorkerFromYAMLWithEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	data := []byte(`
controller: http://controller:7070
address: http://w1:8080
id: w1
write_quorum: 1
data_dir: /tmp/w1
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	t.Setenv("WRITE_QUORUM", "2")

	cfg, err := LoadWorker(path)
	require.NoError(t, err)

	assert.Equal(t, "w1", cfg.ID)
	assert.Equal(t, "http://controller:7070", cfg.Controller)
	assert.Equal(t, 2, cfg.WriteQuorum, "env must win over file")
	assert.Equal(t, "/tmp/w1", cfg.DataDir)
}

func TestLoadWorkerMintsID(t *testing.T) {
	t.Setenv("CONTROLLER", "http://localhost:7070")
	t.Setenv("ADDRESS", "http://localhost:8080")

	cfg, err := LoadWorker("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ID)

	other, err := LoadWorker("")
	require.NoError(t, err)
	assert.NotEqual(t, cfg.ID, other.ID)
}

func TestLoadWorkerRejectsMissingAddress(t *testing.T) {
	t.Setenv("CONTROLLER", "http://localhost:7070")
	t.Setenv("ADDRESS", "")

	_, err := LoadWorker("")
	assert.Error(t, err)
}
