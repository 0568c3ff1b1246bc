package ascom_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"astrobridge/pkg/alpaca/alpacatest"
	"astrobridge/pkg/device"
)

const testTimeout = 2 * time.Second

type recorder struct {
	mu     sync.Mutex
	events []device.Event
}

func (r *recorder) record(e device.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t device.EventType) []device.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []device.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newServer(t *testing.T) *alpacatest.Server {
	t.Helper()
	srv := alpacatest.NewServer()
	t.Cleanup(srv.Close)
	return srv
}

// connect brings d online and forgets the requests made while loading its
// capabilities.
func connect(t *testing.T, srv *alpacatest.Server, d device.Device) {
	t.Helper()
	require.NoError(t, d.Connect(testTimeout))
	require.True(t, d.IsConnected())
	srv.ResetRequests()
}
