package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IMS_HUB_AUTH_SIGNINGKEY", "test-secret")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.ListenAddr)
	require.Equal(t, []string{"localhost:9092"}, cfg.Broker.BootstrapServers)
	require.Equal(t, "ims-event-hub", cfg.Broker.GroupID)
	require.Equal(t, 10, cfg.Broker.Concurrency)
	require.Equal(t, 2, cfg.Broker.InventoryConcurrencyMultiplier)
	require.Equal(t, "ims-event-hub.quarantine", cfg.Broker.QuarantineTopic)
	require.Equal(t, 10*time.Second, cfg.Wire.SendTimeout)
	require.Equal(t, int64(131072), cfg.Wire.MessageSizeLimit)
	require.Equal(t, 1024, cfg.Session.OutboxCapacity)
	require.Equal(t, 90*time.Second, cfg.Session.LivenessTimeout)
	require.InDelta(t, 0.8, cfg.Session.HighWaterRatio, 1e-9)
	require.Equal(t, 2*time.Second, cfg.Session.DrainGrace)
	require.Empty(t, cfg.Metrics.Endpoint)
}

func TestLoadEnvOverridesAndListSplitting(t *testing.T) {
	t.Setenv("IMS_HUB_AUTH_SIGNINGKEY", "test-secret")
	t.Setenv("IMS_HUB_BROKER_BOOTSTRAPSERVERS", "k1:9092, k2:9092 ,k3:9092")
	t.Setenv("IMS_HUB_WIRE_ALLOWEDORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("IMS_HUB_BROKER_CONCURRENCY", "4")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"k1:9092", "k2:9092", "k3:9092"}, cfg.Broker.BootstrapServers)
	require.Equal(t, 4, cfg.Broker.Concurrency)

	require.True(t, cfg.OriginAllowed("https://a.example.com"))
	require.True(t, cfg.OriginAllowed("HTTPS://A.EXAMPLE.COM"))
	require.False(t, cfg.OriginAllowed("https://evil.example.com"))
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("IMS_HUB_AUTH_SIGNINGKEY", "test-secret")
	path := filepath.Join(t.TempDir(), "hub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listenAddr: ":9999"
broker:
  groupId: custom-group
session:
  outboxCapacity: 64
`), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Server.ListenAddr)
	require.Equal(t, "custom-group", cfg.Broker.GroupID)
	require.Equal(t, 64, cfg.Session.OutboxCapacity)
	require.Equal(t, "custom-group.quarantine", cfg.Broker.QuarantineTopic)
}

func TestValidateRejections(t *testing.T) {
	t.Setenv("IMS_HUB_AUTH_SIGNINGKEY", "test-secret")

	t.Run("missing signing key", func(t *testing.T) {
		t.Setenv("IMS_HUB_AUTH_SIGNINGKEY", "")
		_, err := Load("", nil)
		require.ErrorContains(t, err, "auth.signingKey")
	})
	t.Run("zero concurrency", func(t *testing.T) {
		t.Setenv("IMS_HUB_BROKER_CONCURRENCY", "0")
		_, err := Load("", nil)
		require.ErrorContains(t, err, "broker.concurrency")
	})
	t.Run("bad high-water ratio", func(t *testing.T) {
		t.Setenv("IMS_HUB_SESSION_HIGHWATERRATIO", "1.5")
		_, err := Load("", nil)
		require.ErrorContains(t, err, "highWaterRatio")
	})
}

func TestWildcardOrigin(t *testing.T) {
	cfg := &Config{Wire: Wire{AllowedOrigins: []string{"*"}}}
	require.True(t, cfg.OriginAllowed("https://anything.example.com"))
}
