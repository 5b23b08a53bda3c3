package config

import (
	"go/format"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wentf9/xops-xfer/pkg/models"
	"github.com/wentf9/xops-xfer/pkg/transfer"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := NewDefaultStore(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, transfer.DefaultOptions(), cfg.Transfer)
	assert.Equal(t, 10, cfg.Pool.MaxPerHost)
	assert.Equal(t, 30*time.Second, cfg.Pool.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.Pool.AcquireTimeout)
	assert.Zero(t, cfg.Hosts.Count())
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transfer:
  chunk_size: 1048576
pool:
  idle_timeout: 90s
hosts:
  web1:
    address: 10.0.0.1
    port: 2222
    user: deploy
    alias: [web, 10.0.0.11]
    auth_type: key
    key_path: ~/.ssh/id_ed25519
`), 0o600))

	cfg, err := NewDefaultStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), cfg.Transfer.ChunkSize)
	assert.Equal(t, transfer.DefaultMaxConcurrentChunks, cfg.Transfer.MaxConcurrentChunks)
	assert.Equal(t, transfer.DefaultSizeThreshold, cfg.Transfer.SizeThreshold)
	assert.Equal(t, 90*time.Second, cfg.Pool.IdleTimeout)
	assert.Equal(t, 10, cfg.Pool.MaxPerHost)

	web1, ok := cfg.Hosts.Get("web1")
	require.True(t, ok)
	assert.Equal(t, "web1", web1.Host.ID)
	assert.Equal(t, "web1", web1.Host.Key())
	assert.Equal(t, "10.0.0.1:2222", web1.Host.Addr())
	assert.Equal(t, models.AuthKey, web1.Identity.AuthType)
	assert.Equal(t, "~/.ssh/id_ed25519", web1.Identity.KeyPath)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transfer: [1, 2"), 0o600))
	_, err := NewDefaultStore(path).Load()
	require.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	store := NewDefaultStore(path)

	cfg := DefaultConfiguration()
	cfg.Pool.KeepAlive = 15 * time.Second
	NewProvider(cfg).AddHost("db", HostEntry{
		Host:     models.Host{Address: "db.internal", User: "postgres"},
		Identity: models.Identity{AuthType: models.AuthAgent},
	})
	require.NoError(t, store.Save(cfg))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, loaded.Pool.KeepAlive)
	db, ok := loaded.Hosts.Get("db")
	require.True(t, ok)
	assert.Equal(t, "db.internal", db.Host.Address)
	assert.Equal(t, models.AuthAgent, db.Identity.AuthType)
}

func TestProviderFind(t *testing.T) {
	cfg := DefaultConfiguration()
	p := NewProvider(cfg)
	p.AddHost("web1", HostEntry{
		Host: models.Host{Address: "10.0.0.1", User: "root", Alias: []string{"web", "10.0.0.11"}},
	})

	for _, input := range []string{"web1", "web", "root@10.0.0.1:22", "root@10.0.0.11:22"} {
		e, ok := p.Find(input)
		require.True(t, ok, input)
		assert.Equal(t, "web1", e.Host.ID)
	}
	_, ok := p.Find("root@10.0.0.2:22")
	assert.False(t, ok)
	assert.Len(t, p.ListHosts(), 1)
}

func TestPoolOptions(t *testing.T) {
	cfg := DefaultConfiguration()
	assert.Len(t, cfg.PoolOptions(), 6)
}

func TestSourcesAreGofmted(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, name := range files {
		src, err := os.ReadFile(name)
		require.NoError(t, err)
		formatted, err := format.Source(src)
		require.NoError(t, err, name)
		assert.Equal(t, string(formatted), string(src), "%s is not gofmt-formatted", name)
	}
}
