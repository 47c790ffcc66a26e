package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// writeConfig drops the supplied TOML into a temp file
// and returns its path.
func writeConfig(t *testing.T, contents string) string {

	t.Helper()

	path := filepath.Join(t.TempDir(), "lattice.toml")
	require.Nil(t, os.WriteFile(path, []byte(contents), 0600))

	return path
}

// TestLoadConfig checks parsing, defaults and validation.
func TestLoadConfig(t *testing.T) {

	conf, err := LoadConfig(writeConfig(t, `
Name = "worker-1"
ListenSyncAddr = "127.0.0.1:20001"
LatticeRoot = "/var/lib/lattice"
SchemaFile = "/etc/lattice/schema.toml"

[Peers]
"worker-2" = "127.0.0.1:20002"
"storage" = "127.0.0.1:20003"

[Propagation]
BatchSize = 32
`))
	require.Nil(t, err)

	assert.Equal(t, "worker-1", conf.Name)
	assert.Len(t, conf.Peers, 2)
	assert.Equal(t, 32, conf.Propagation.BatchSize)

	// Unset flush interval falls back to its default.
	assert.Equal(t, 5, conf.Propagation.FlushInterval)
}

// TestLoadConfigRejectsSelfPeer makes sure a node cannot
// gossip to itself.
func TestLoadConfigRejectsSelfPeer(t *testing.T) {

	_, err := LoadConfig(writeConfig(t, `
Name = "worker-1"
LatticeRoot = "/var/lib/lattice"
SchemaFile = "/etc/lattice/schema.toml"

[Peers]
"worker-1" = "127.0.0.1:20001"
`))
	assert.NotNil(t, err)
}

// TestLoadConfigRejectsHalfTLS makes sure cert and key
// only come in pairs.
func TestLoadConfigRejectsHalfTLS(t *testing.T) {

	_, err := LoadConfig(writeConfig(t, `
Name = "worker-1"
LatticeRoot = "/var/lib/lattice"
SchemaFile = "/etc/lattice/schema.toml"
CertLoc = "/etc/lattice/cert.pem"
`))
	assert.NotNil(t, err)
}

// TestEnvApplyTo checks deployment overrides.
func TestEnvApplyTo(t *testing.T) {

	conf := &Config{
		Name:           "worker-1",
		LatticeRoot:    "/var/lib/lattice",
		ListenSyncAddr: "127.0.0.1:20001",
	}

	env := &Env{LatticeRoot: "/tmp/lattice"}
	env.ApplyTo(conf)

	assert.Equal(t, "/tmp/lattice", conf.LatticeRoot)
	assert.Equal(t, "127.0.0.1:20001", conf.ListenSyncAddr)
}
