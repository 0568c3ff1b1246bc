package indi_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indi"
	"astrobridge/pkg/indiclient"
	"astrobridge/pkg/indiclient/inditest"
)

const wheelName = "Filter Simulator"

func newFilterWheel(t *testing.T) (*inditest.Server, *indi.FilterWheel) {
	t.Helper()
	srv, c := newSession(t,
		connection(wheelName),
		numbers(wheelName, "FILTER_SLOT", indiclient.Element{Name: "FILTER_SLOT_VALUE", Number: 1, Min: 1, Max: 8, Step: 1}),
		texts(wheelName, "FILTER_NAME", map[string]string{
			"FILTER_SLOT_NAME_1": "Red", "FILTER_SLOT_NAME_2": "Green", "FILTER_SLOT_NAME_3": "Blue", "FILTER_SLOT_NAME_4": "Lum",
		}),
	)
	w := indi.NewFilterWheel(c, wheelName, nil)
	t.Cleanup(w.Close)
	require.NoError(t, w.Connect(testTimeout))
	return srv, w
}

func TestFilterWheelOutOfRangeSlot(t *testing.T) {
	srv, w := newFilterWheel(t)
	srv.OnNew(busyOn("FILTER_SLOT"))

	lo, hi := w.Range()
	assert.Equal(t, 1, lo)
	assert.Equal(t, 8, hi)

	assert.True(t, errors.Is(w.SetPosition(9), device.ErrInvalidValue))
	assert.True(t, errors.Is(w.SetPosition(0), device.ErrInvalidValue))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, srv.ReceivedFor(wheelName, "FILTER_SLOT"))

	require.NoError(t, w.SetPosition(3))
	assert.Equal(t, device.FilterMoving, w.Position())
	assert.True(t, w.IsMoving())
	assert.Equal(t, device.MotionMoving, w.Status().State)
	assert.Equal(t, 3, w.Status().Target)

	require.True(t, srv.WaitForReceived(wheelName, "FILTER_SLOT", 1, testTimeout))
	srv.SetNumber(wheelName, "FILTER_SLOT", device.PropertyOk, map[string]float64{"FILTER_SLOT_VALUE": 3})
	require.True(t, w.WaitForMove(testTimeout))
	assert.Equal(t, 3, w.Position())
}

func TestFilterWheelNames(t *testing.T) {
	srv, w := newFilterWheel(t)

	names := w.FilterNames()
	require.Len(t, names, 8)
	assert.Equal(t, []string{"Red", "Green", "Blue", "Lum"}, names[:4])
	assert.Equal(t, "Filter 5", names[4])

	slots := w.Slots()
	assert.Equal(t, device.FilterSlot{Position: 3, Name: "Blue"}, slots[2])
	assert.Len(t, w.FocusOffsets(), 8)

	require.NoError(t, w.SetFilterName(4, "Ha"))
	require.True(t, srv.WaitForReceived(wheelName, "FILTER_NAME", 1, testTimeout))
	eventually(t, func() bool { return w.FilterNames()[3] == "Ha" }, "name updated")
	assert.True(t, errors.Is(w.SetFilterName(12, "x"), device.ErrInvalidValue))
}
