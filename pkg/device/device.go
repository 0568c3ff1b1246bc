// Package device holds the backend-neutral vocabulary of the library: device
// kinds, states, descriptors, the error taxonomy, events and the typed
// interfaces implemented by both the ASCOM and the INDI backends.
package device

import "time"

// Device is the surface common to every device regardless of kind and
// backend.
type Device interface {
	Name() string
	Kind() Kind
	Backend() Backend
	Info() Info

	// Connect brings the device to Connected or fails, leaving it in Error.
	Connect(timeout time.Duration) error
	Disconnect() error
	IsConnected() bool
	ConnectionState() ConnectionState

	// Refresh re-reads the observed state from the backend.
	Refresh() error
	LastError() error

	// ExecuteAction passes a driver-specific action through unchanged.
	ExecuteAction(action, params string) (string, error)
	SetEventCallback(cb EventCallback)
}

// Positional is implemented by devices that move to a position and report
// when they arrive.
type Positional interface {
	IsMoving() bool
	WaitForMove(timeout time.Duration) bool
}

// Mount is the slewing surface shared by telescopes.
type Mount interface {
	SlewToCoordinates(ra, dec float64) error
	SlewToCoordinatesAsync(ra, dec float64) error
	SyncToCoordinates(ra, dec float64) error
	AbortSlew() error
	IsSlewing() bool
	WaitForSlew(timeout time.Duration) bool
	Park() error
	Unpark() error
	IsParked() bool
}
