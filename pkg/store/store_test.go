package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"astrobridge/pkg/device"
	"astrobridge/pkg/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "astrobridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDefaults(t *testing.T) {
	s := openStore(t)

	cfg, err := s.MQTTConfig()
	require.NoError(t, err)
	assert.Equal(t, store.DefaultMQTTConfig, cfg)

	servers, err := s.Servers()
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestDefaultsDoNotOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "astrobridge.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	custom := store.MQTTConfig{Enabled: true, Broker: "tcp://broker:1883", TopicRoot: "obs"}
	require.NoError(t, s.SetMQTTConfig(custom))
	require.NoError(t, s.Close())

	s, err = store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	cfg, err := s.MQTTConfig()
	require.NoError(t, err)
	assert.Equal(t, custom, cfg)
}

func TestServers(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.SaveServer(store.Server{Name: "roof", Backend: device.BackendASCOM, Host: "10.0.0.5", Port: 11111, AutoConnect: true}))
	require.NoError(t, s.SaveServer(store.Server{Backend: device.BackendINDI, Host: "localhost", Port: 7624}))
	assert.Error(t, s.SaveServer(store.Server{Name: "broken"}))

	servers, err := s.Servers()
	require.NoError(t, err)
	require.Len(t, servers, 2)
	// Unnamed servers are keyed by backend and address, which sorts first here.
	assert.Empty(t, servers[0].Name)
	assert.Equal(t, device.BackendINDI, servers[0].Backend)
	assert.Equal(t, "roof", servers[1].Name)
	assert.Equal(t, device.BackendASCOM, servers[1].Backend)
	assert.Equal(t, "10.0.0.5:11111", servers[1].Address())

	got, err := s.Server("roof")
	require.NoError(t, err)
	assert.True(t, got.AutoConnect)

	require.NoError(t, s.DeleteServer("roof"))
	assert.ErrorIs(t, s.DeleteServer("roof"), store.ErrNotFound)
	_, err = s.Server("roof")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeviceProfiles(t *testing.T) {
	s := openStore(t)

	p := store.DeviceProfile{
		Name:        "Main Camera",
		AutoConnect: true,
		Settings:    map[string]any{"binning": 2, "frametype": "Dark", "cooleron": true},
	}
	require.NoError(t, s.SaveDeviceProfile(p))
	assert.Error(t, s.SaveDeviceProfile(store.DeviceProfile{}))

	got, err := s.DeviceProfile("Main Camera")
	require.NoError(t, err)
	assert.True(t, got.AutoConnect)
	assert.Equal(t, float64(2), got.Settings["binning"])
	assert.Equal(t, "Dark", got.Settings["frametype"])

	all, err := s.DeviceProfiles()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteDeviceProfile("Main Camera"))
	_, err = s.DeviceProfile("Main Camera")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSharedDatabase(t *testing.T) {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "shared.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	s, err := store.New(db)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Close leaves a borrowed database open.
	_, err = s.MQTTConfig()
	assert.NoError(t, err)
}
