package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shreyes-7/AyurTrack-sub001/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Ledger.Mode)
	assert.Equal(t, time.Minute, cfg.Ledger.CommitTimeout)
	assert.Equal(t, 1, cfg.Outbox.MaxAttempts)
	assert.Equal(t, 500, cfg.Outbox.ErrorMaxLen)
	assert.Equal(t, "fs", cfg.Blob.Driver)
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
database:
  driver: postgres
  dsn: postgres://herb@localhost/herbaltrace?sslmode=disable
ledger:
  mode: fabric
  peer_endpoint: localhost:7051
  gateway_peer: peer0.org1.example.com
  tls_cert_path: /crypto/ca.crt
  commit_timeout: 30s
identities:
  Org1MSP:
    cert_path: /crypto/org1/cert.pem
    key_path: /crypto/org1/key.pem
outbox:
  workers: 2
  max_attempts: 3
`))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Ledger.CommitTimeout)
	assert.Equal(t, 15*time.Second, cfg.Ledger.EndorseTimeout)
	assert.Equal(t, 2, cfg.Outbox.Workers)
	assert.Equal(t, 3, cfg.Outbox.MaxAttempts)
	assert.Equal(t, "/crypto/org1/key.pem", cfg.Identities["Org1MSP"].KeyPath)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":         "database: {driver: mysql, dsn: x}",
		"fabric no peer": "ledger: {mode: fabric}",
		"fabric no ids":  "ledger: {mode: fabric, peer_endpoint: p:7051, tls_cert_path: ca.crt}",
		"s3 no bucket":   "blob: {driver: s3}",
		"log format":     "log: {format: xml}",
		"queue":          "outbox: {workers: 10, queue_size: 2}",
		"bad yaml":       "ledger: [",
	}
	for name, doc := range cases {
		_, err := config.FromYAML([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, "herbaltrace", cfg.Ledger.Chaincode)

	path := filepath.Join(t.TempDir(), config.FileName)
	require.NoError(t, os.WriteFile(path, []byte("qr: {size: 512}\n"), 0o600))
	cfg, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.QR.Size)
}
