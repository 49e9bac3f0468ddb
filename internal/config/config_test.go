package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, "postgres", cfg.StoreDriver)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lavanda.yaml")
	body := `
http_addr: ":9000"
service_name: "from-file"
kafka_brokers: ["k1:9092", "k2:9092"]
freshness_sweep_interval: 15m
freshness_retention_days: 7
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVICE_NAME", "from-env")
	t.Setenv("INVENTORY_WORKERS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "from-env", cfg.ServiceName)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, 3, cfg.InventoryWorkers)
}

func TestLoad_BadValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	t.Setenv("INVENTORY_WORKERS", "many")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("INVENTORY_WORKERS", "")
	t.Setenv("FRESHNESS_SWEEP_INTERVAL", "soon")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("FRESHNESS_SWEEP_INTERVAL", "")
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("STORE_DRIVER", "Memory")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreDriver)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitCSV(" a , ,b,"))
	assert.Empty(t, splitCSV(""))
}
