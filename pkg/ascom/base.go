// Package ascom implements the typed devices on top of an Alpaca client.
package ascom

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
)

// Base is the part every ASCOM device shares: the Alpaca endpoint, the
// device number, connection bookkeeping and the typed GET/PUT helpers.
type Base struct {
	*device.Base

	client *alpaca.Client
	number int

	infoMu sync.RWMutex
	info   device.Info

	// onConnect loads capabilities and initial state; onRefresh re-reads
	// observed state. Both are installed by the typed device.
	onConnect func() error
	onRefresh func() error
}

func newBase(client *alpaca.Client, kind device.Kind, number int, name string, logger log.FieldLogger) *Base {
	if name == "" {
		name = fmt.Sprintf("%s %d", kind, number)
	}
	b := &Base{
		Base:   device.NewBase(name, kind, device.BackendASCOM, logger),
		client: client,
		number: number,
	}
	b.info = device.Info{
		Name:    name,
		Kind:    kind,
		Backend: device.BackendASCOM,
		Number:  number,
		Server:  client.Address(),
	}
	return b
}

func (b *Base) Client() *alpaca.Client { return b.client }

func (b *Base) Number() int { return b.number }

func (b *Base) Info() device.Info {
	b.infoMu.RLock()
	info := b.info
	b.infoMu.RUnlock()
	info.State = b.ConnectionState()
	return info
}

// SetUniqueID records the identifier announced by the management API.
func (b *Base) SetUniqueID(id string) {
	b.infoMu.Lock()
	defer b.infoMu.Unlock()
	b.info.UniqueID = id
}

// Connect PUTs connected=true and loads the device description and
// capabilities.
func (b *Base) Connect(timeout time.Duration) error {
	if b.IsConnected() {
		return nil
	}
	b.SetConnectionState(device.Connecting)
	b.client.SetTimeout(timeout)

	if err := b.client.Put(context.Background(), b.Kind(), b.number, "connected", url.Values{"Connected": {"true"}}).Err(); err != nil {
		b.SetConnectionState(device.ConnectionError)
		return b.Fail("connected", err)
	}

	b.loadInfo()
	if b.onConnect != nil {
		if err := b.onConnect(); err != nil {
			b.SetConnectionState(device.ConnectionError)
			return b.Fail("connected", err)
		}
	}

	b.SetConnectionState(device.Connected)
	b.Logger().Infof("Connected (%s)", b.client.Address())
	return nil
}

// Disconnect PUTs connected=false. The device ends Disconnected even when
// the server cannot be reached.
func (b *Base) Disconnect() error {
	if b.ConnectionState() == device.Disconnected {
		return nil
	}
	b.SetConnectionState(device.Disconnecting)
	err := b.client.Put(context.Background(), b.Kind(), b.number, "connected", url.Values{"Connected": {"false"}}).Err()
	b.SetConnectionState(device.Disconnected)
	if err != nil {
		b.Logger().Warnf("Disconnect: %v", err)
		return b.Fail("connected", err)
	}
	b.Logger().Info("Disconnected")
	return nil
}

func (b *Base) Refresh() error {
	if err := b.RequireConnected(); err != nil {
		return err
	}
	if b.onRefresh == nil {
		return nil
	}
	if err := b.onRefresh(); err != nil {
		return b.Fail("refresh", err)
	}
	return nil
}

func (b *Base) ExecuteAction(action, params string) (string, error) {
	if err := b.RequireConnected(); err != nil {
		return "", b.Fail(action, err)
	}
	out, err := b.client.Action(context.Background(), b.Kind(), b.number, action, params)
	if err != nil {
		return "", b.Fail(action, err)
	}
	b.Emit(device.EventPropertyChanged, action, "action executed", out)
	return out, nil
}

// SupportedActions lists the driver-specific actions.
func (b *Base) SupportedActions() ([]string, error) {
	if err := b.RequireConnected(); err != nil {
		return nil, err
	}
	return b.get("supportedactions", nil).Strings()
}

func (b *Base) loadInfo() {
	b.infoMu.Lock()
	defer b.infoMu.Unlock()
	if v, ok := b.GetString("description"); ok {
		b.info.Description = v
	}
	if v, ok := b.GetString("driverinfo"); ok {
		b.info.DriverInfo = v
	}
	if v, ok := b.GetString("driverversion"); ok {
		b.info.DriverVersion = v
	}
	if v, ok := b.GetInt("interfaceversion"); ok {
		b.info.InterfaceVersion = v
	}
}

func (b *Base) get(method string, params url.Values) *alpaca.Response {
	return b.client.Get(context.Background(), b.Kind(), b.number, method, params)
}

// GetBool reads a boolean property; ok is false on any error.
func (b *Base) GetBool(method string) (v bool, ok bool) {
	v, err := b.get(method, nil).Bool()
	return v, err == nil
}

func (b *Base) GetInt(method string) (int, bool) {
	v, err := b.get(method, nil).Int()
	return v, err == nil
}

func (b *Base) GetDouble(method string) (float64, bool) {
	v, err := b.get(method, nil).Float()
	return v, err == nil
}

func (b *Base) GetString(method string) (string, bool) {
	v, err := b.get(method, nil).Text()
	return v, err == nil
}

func (b *Base) SetBool(method, param string, v bool) error {
	return b.command(method, url.Values{param: {strconv.FormatBool(v)}})
}

func (b *Base) SetInt(method, param string, v int) error {
	return b.command(method, url.Values{param: {strconv.Itoa(v)}})
}

func (b *Base) SetDouble(method, param string, v float64) error {
	return b.command(method, url.Values{param: {formatFloat(v)}})
}

func (b *Base) SetString(method, param, v string) error {
	return b.command(method, url.Values{param: {v}})
}

// command PUTs a state-changing method. Failures are recorded and
// published; successes publish a PropertyChanged event.
func (b *Base) command(method string, params url.Values) error {
	if err := b.RequireConnected(); err != nil {
		return b.Fail(method, err)
	}
	if err := b.client.Put(context.Background(), b.Kind(), b.number, method, params).Err(); err != nil {
		return b.Fail(method, err)
	}
	b.Emit(device.EventPropertyChanged, method, "", paramsData(params))
	return nil
}

// guard fails with InvalidOperation unless capable. It never touches the
// transport.
func (b *Base) guard(capable bool, what string) error {
	if err := b.RequireConnected(); err != nil {
		return b.Fail(what, err)
	}
	if !capable {
		return b.Fail(what, device.Errorf(device.ErrInvalidOperation, "%s is not supported by this device", what))
	}
	return nil
}

func (b *Base) invalid(what, format string, args ...any) error {
	return b.Fail(what, device.Errorf(device.ErrInvalidValue, format, args...))
}

// poll evaluates done at the shared cadence until it holds or timeout
// elapses.
func (b *Base) poll(timeout time.Duration, done func() bool) bool {
	ok, _ := device.Poll(timeout, nil, func() (bool, error) { return done(), nil })
	return ok
}

func paramsData(params url.Values) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
