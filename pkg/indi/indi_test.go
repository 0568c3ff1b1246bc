package indi_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
	"astrobridge/pkg/indiclient/inditest"
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

func numbers(dev, name string, elems ...indiclient.Element) *indiclient.Property {
	return &indiclient.Property{Device: dev, Name: name, Type: indiclient.NumberType, State: device.PropertyIdle, Permission: indiclient.ReadWrite, Elements: elems}
}

func switches(dev, name string, rule indiclient.SwitchRule, on string, names ...string) *indiclient.Property {
	p := &indiclient.Property{Device: dev, Name: name, Type: indiclient.SwitchType, State: device.PropertyIdle, Permission: indiclient.ReadWrite, Rule: rule}
	for _, n := range names {
		p.Elements = append(p.Elements, indiclient.Element{Name: n, Switch: n == on})
	}
	return p
}

func texts(dev, name string, values map[string]string) *indiclient.Property {
	p := &indiclient.Property{Device: dev, Name: name, Type: indiclient.TextType, State: device.PropertyIdle, Permission: indiclient.ReadWrite}
	for k, v := range values {
		p.Elements = append(p.Elements, indiclient.Element{Name: k, Text: v})
	}
	return p
}

func connection(dev string) *indiclient.Property {
	return switches(dev, "CONNECTION", indiclient.OneOfMany, "DISCONNECT", "CONNECT", "DISCONNECT")
}

// newSession starts a stub server holding props and a client connected to
// it, waiting until every definition reached the client cache.
func newSession(t *testing.T, props ...*indiclient.Property) (*inditest.Server, *indiclient.Client) {
	t.Helper()
	srv, err := inditest.NewServer()
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	for _, p := range props {
		srv.Define(p)
	}

	c := indiclient.NewClient()
	require.NoError(t, c.Connect(context.Background(), srv.Host(), srv.Port(), time.Second))
	t.Cleanup(func() { c.Disconnect() })
	for _, p := range props {
		require.True(t, c.WaitForProperty(p.Device, p.Name, testTimeout), "definition of %s", p.Name)
	}
	return srv, c
}

// busyOn leaves writes to name Busy, the way a driver starts a long move.
func busyOn(name string) inditest.NewHandler {
	return func(s *inditest.Server, p *indiclient.Property) {
		if p.Name == name {
			p.State = device.PropertyBusy
		} else {
			p.State = device.PropertyOk
		}
		s.Update(p)
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, testTimeout, 10*time.Millisecond, msg)
}
