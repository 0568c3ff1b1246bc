// Package indiclient is a client for the INDI protocol: a long-lived XML
// session over TCP in which drivers define, update and delete typed
// properties.
package indiclient

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
)

const (
	DefaultPort        = 7624
	writeTimeout       = 5 * time.Second
	defaultDialTimeout = 5 * time.Second
)

type EventType int

const (
	PropertyDefined EventType = iota
	PropertyUpdated
	PropertyDeleted
	MessageReceived
	BLOBReceived
	ServerDisconnected
)

var eventTypeNames = []string{"PropertyDefined", "PropertyUpdated", "PropertyDeleted", "MessageReceived", "BLOBReceived", "ServerDisconnected"}

func (t EventType) String() string {
	if t < PropertyDefined || t > ServerDisconnected {
		return "Unknown"
	}
	return eventTypeNames[t]
}

// Event is delivered to subscribers on the dispatch goroutine. Property is a
// private snapshot.
type Event struct {
	Type      EventType
	Device    string
	Name      string
	Property  *Property
	Message   string
	Timestamp string
}

// Observer is notified of every message crossing the wire.
type Observer interface {
	ObserveMessage(direction, tag string)
}

type Option func(*Client)

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithLogger(l log.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// Client is one INDI session. Incoming messages are applied to the property
// cache and dispatched to watchers by a single reader goroutine, so
// callbacks never overlap and must not block.
type Client struct {
	logger   log.FieldLogger
	observer Observer

	connMu    sync.Mutex
	conn      net.Conn
	addr      string
	done      chan struct{}
	connected atomic.Bool

	cacheMu sync.RWMutex
	props   map[Key]*Property
	seen    map[string]bool
	order   []string

	// Keys written by the client and not yet answered. Snapshots of these
	// report Busy; the cache itself is only written by the reader.
	pendingMu sync.Mutex
	pending   map[Key]struct{}

	subMu          sync.RWMutex
	nextID         int
	subs           map[int]func(Event)
	deviceWatchers map[int]deviceWatcher
	propWatchers   map[int]propWatcher

	changed device.Signal
}

type deviceWatcher struct {
	name string
	fn   func(string)
}

type propWatcher struct {
	key Key
	fn  func(*Property)
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		logger:         log.StandardLogger(),
		props:          make(map[Key]*Property),
		seen:           make(map[string]bool),
		pending:        make(map[Key]struct{}),
		subs:           make(map[int]func(Event)),
		deviceWatchers: make(map[int]deviceWatcher),
		propWatchers:   make(map[int]propWatcher),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "indi")
	return c
}

// Connect dials host:port and requests all property definitions.
func (c *Client) Connect(ctx context.Context, host string, port int, timeout time.Duration) error {
	if c.connected.Load() {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &device.Error{Kind: device.ErrTransport, Message: fmt.Sprintf("connect to INDI server %s: %v", addr, err)}
	}

	c.connMu.Lock()
	if c.conn != nil {
		// The previous session ended on the server side.
		c.conn.Close()
	}
	c.conn = conn
	c.addr = addr
	c.done = make(chan struct{})
	done := c.done
	c.connMu.Unlock()
	c.connected.Store(true)

	go c.readLoop(conn, done)

	c.logger.Infof("Connected to INDI server %s", addr)
	if err := c.write("getProperties", func(w io.Writer) error { return WriteGetProperties(w, "", "") }); err != nil {
		c.Disconnect()
		return err
	}
	return nil
}

// Disconnect closes the session and waits for the reader to finish.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	conn, done := c.conn, c.done
	c.conn = nil
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}

	err := conn.Close()
	<-done
	c.logger.Infof("Disconnected from INDI server %s", c.addr)
	return err
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

// Done is closed when the current session ends.
func (c *Client) Done() <-chan struct{} {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

func (c *Client) Address() string {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.addr
}

func (c *Client) readLoop(conn net.Conn, done chan struct{}) {
	defer func() {
		c.connected.Store(false)
		c.cacheMu.Lock()
		c.props = make(map[Key]*Property)
		c.seen = make(map[string]bool)
		c.order = nil
		c.cacheMu.Unlock()
		c.pendingMu.Lock()
		c.pending = make(map[Key]struct{})
		c.pendingMu.Unlock()
		close(done)
		c.publish(Event{Type: ServerDisconnected})
		c.changed.Broadcast()
	}()

	dec := xml.NewDecoder(conn)
	for {
		m, err := ReadMessage(dec)
		if err != nil {
			var syntaxErr *xml.SyntaxError
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				return
			case errors.As(err, &syntaxErr):
				c.logger.Errorf("Malformed INDI stream: %v", err)
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) {
				c.logger.Warnf("Connection lost: %v", err)
				return
			}
			c.logger.Warnf("Dropping message: %v", err)
			continue
		}
		if c.observer != nil {
			c.observer.ObserveMessage("in", m.Tag)
		}
		c.dispatch(m)
	}
}

func (c *Client) dispatch(m *Message) {
	switch {
	case m.Property != nil && m.Verb == VerbDef:
		c.define(m.Property)
	case m.Property != nil && m.Verb == VerbSet:
		c.update(m.Property)
	case m.Tag == "delProperty":
		c.delete(m.Device, m.Name)
	case m.Tag == "message":
		c.logger.WithField("device", m.Device).Infof("%s", m.Text)
		c.publish(Event{Type: MessageReceived, Device: m.Device, Message: m.Text, Timestamp: m.Timestamp})
	default:
		c.logger.Debugf("Ignoring %s", m.Tag)
	}
	c.changed.Broadcast()
}

func (c *Client) define(p *Property) {
	c.answered(p.Key())
	c.cacheMu.Lock()
	c.props[p.Key()] = p
	first := !c.seen[p.Device]
	if first {
		c.seen[p.Device] = true
		c.order = append(c.order, p.Device)
	}
	c.cacheMu.Unlock()

	c.logger.Debugf("Defined %s.%s (%s, %s)", p.Device, p.Name, p.Type, p.State)
	if first {
		c.logger.Infof("Device %q announced", p.Device)
		for _, w := range c.deviceWatchersFor(p.Device) {
			w(p.Device)
		}
	}
	c.publish(Event{Type: PropertyDefined, Device: p.Device, Name: p.Name, Property: p.Clone(), Timestamp: p.Timestamp})
	c.notifyProperty(p)
}

func (c *Client) update(u *Property) {
	c.answered(u.Key())
	c.cacheMu.Lock()
	p, ok := c.props[u.Key()]
	if ok {
		p.Merge(u)
		p = p.Clone()
	}
	c.cacheMu.Unlock()

	if !ok {
		c.logger.Warnf("Update for undefined property %s.%s", u.Device, u.Name)
		return
	}
	if u.Message != "" {
		c.logger.WithField("device", u.Device).Infof("%s", u.Message)
	}

	t := PropertyUpdated
	if p.Type == BLOBType {
		t = BLOBReceived
	}
	c.publish(Event{Type: t, Device: p.Device, Name: p.Name, Property: p, Message: u.Message, Timestamp: p.Timestamp})
	c.notifyProperty(p)
}

func (c *Client) delete(dev, name string) {
	var removed []Key
	c.cacheMu.Lock()
	for k := range c.props {
		if k.Device == dev && (name == "" || k.Name == name) {
			delete(c.props, k)
			removed = append(removed, k)
		}
	}
	if name == "" && c.seen[dev] {
		delete(c.seen, dev)
		for i, d := range c.order {
			if d == dev {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.cacheMu.Unlock()

	for _, k := range removed {
		c.answered(k)
		c.publish(Event{Type: PropertyDeleted, Device: k.Device, Name: k.Name})
	}
	if name == "" {
		c.logger.Infof("Device %q removed", dev)
	}
}

func (c *Client) publish(e Event) {
	c.subMu.RLock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

func (c *Client) notifyProperty(p *Property) {
	k := p.Key()
	c.subMu.RLock()
	var fns []func(*Property)
	for _, w := range c.propWatchers {
		if w.key == k {
			fns = append(fns, w.fn)
		}
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn(p.Clone())
	}
}

func (c *Client) deviceWatchersFor(name string) []func(string) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	var fns []func(string)
	for _, w := range c.deviceWatchers {
		if w.name == "" || w.name == name {
			fns = append(fns, w.fn)
		}
	}
	return fns
}

func (c *Client) register(add func(id int)) func() {
	c.subMu.Lock()
	c.nextID++
	id := c.nextID
	add(id)
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
		delete(c.deviceWatchers, id)
		delete(c.propWatchers, id)
	}
}

// Subscribe delivers every client event to fn until the returned function
// is called.
func (c *Client) Subscribe(fn func(Event)) func() {
	return c.register(func(id int) { c.subs[id] = fn })
}

// WatchDevice calls fn when a device named name is first announced, or
// immediately if it is already known. An empty name watches every device.
func (c *Client) WatchDevice(name string, fn func(device string)) func() {
	cancel := c.register(func(id int) { c.deviceWatchers[id] = deviceWatcher{name: name, fn: fn} })
	for _, d := range c.Devices() {
		if name == "" || d == name {
			fn(d)
		}
	}
	return cancel
}

// WatchProperty calls fn with a snapshot every time the property is defined
// or updated.
func (c *Client) WatchProperty(dev, name string, fn func(*Property)) func() {
	return c.register(func(id int) { c.propWatchers[id] = propWatcher{key: Key{dev, name}, fn: fn} })
}

// GetProperty returns a snapshot of the cached property.
func (c *Client) GetProperty(dev, name string) (*Property, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	p, ok := c.props[Key{dev, name}]
	if !ok {
		return nil, false
	}
	return c.snapshot(p), true
}

func (c *Client) snapshot(p *Property) *Property {
	out := p.Clone()
	if c.isPending(p.Key()) {
		out.State = device.PropertyBusy
	}
	return out
}

func (c *Client) isPending(k Key) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	_, ok := c.pending[k]
	return ok
}

func (c *Client) answered(k Key) {
	c.pendingMu.Lock()
	delete(c.pending, k)
	c.pendingMu.Unlock()
}

// Properties returns snapshots of every property of dev, sorted by name.
func (c *Client) Properties(dev string) []*Property {
	c.cacheMu.RLock()
	var out []*Property
	for k, p := range c.props {
		if k.Device == dev {
			out = append(out, c.snapshot(p))
		}
	}
	c.cacheMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Devices lists known devices in the order they were announced.
func (c *Client) Devices() []string {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return append([]string(nil), c.order...)
}

// WaitForPropertyState reports whether the cached property reaches state
// within timeout.
func (c *Client) WaitForPropertyState(dev, name string, state device.PropertyState, timeout time.Duration) bool {
	ok, _ := device.Poll(timeout, c.changed.Wait, func() (bool, error) {
		c.cacheMu.RLock()
		defer c.cacheMu.RUnlock()
		p, found := c.props[Key{dev, name}]
		return found && c.snapshot(p).State == state, nil
	})
	return ok
}

// WaitForProperty reports whether the property is defined within timeout.
func (c *Client) WaitForProperty(dev, name string, timeout time.Duration) bool {
	ok, _ := device.Poll(timeout, c.changed.Wait, func() (bool, error) {
		_, found := c.GetProperty(dev, name)
		return found, nil
	})
	return ok
}

// SendProperty sends p as a new vector. Snapshots of the property report
// Busy until the driver answers.
func (c *Client) SendProperty(p *Property) error {
	if !c.IsConnected() {
		return &device.Error{Kind: device.ErrNotConnected, Device: p.Device, Property: p.Name, Message: "INDI server is not connected"}
	}
	if !p.IsWritable() {
		return &device.Error{Kind: device.ErrInvalidOperation, Device: p.Device, Property: p.Name, Message: "property is read-only"}
	}

	// The answer may be dispatched before the write returns.
	c.pendingMu.Lock()
	c.pending[p.Key()] = struct{}{}
	c.pendingMu.Unlock()

	if err := c.write(string(VerbNew)+wireTypeName(p.Type)+"Vector", func(w io.Writer) error {
		return WriteVector(w, VerbNew, p)
	}); err != nil {
		c.answered(p.Key())
		return err
	}
	c.changed.Broadcast()
	return nil
}

func (c *Client) defined(dev, name string, typ PropertyType) (*Property, error) {
	p, ok := c.GetProperty(dev, name)
	if !ok {
		return nil, &device.Error{Kind: device.ErrNotImplemented, Device: dev, Property: name, Message: "property is not defined"}
	}
	if p.Type != typ {
		return nil, &device.Error{Kind: device.ErrInvalidValue, Device: dev, Property: name, Message: fmt.Sprintf("property is %s, not %s", p.Type, typ)}
	}
	return p, nil
}

func unknownElement(dev, name, elem string) error {
	return &device.Error{Kind: device.ErrInvalidValue, Device: dev, Property: name, Message: fmt.Sprintf("no element %q", elem)}
}

// SetNumber updates the named elements of a number vector and sends the
// whole vector.
func (c *Client) SetNumber(dev, name string, values map[string]float64) error {
	p, err := c.defined(dev, name, NumberType)
	if err != nil {
		return err
	}
	for elem, v := range values {
		e, ok := p.Element(elem)
		if !ok {
			return unknownElement(dev, name, elem)
		}
		e.Number = v
	}
	return c.SendProperty(p)
}

func (c *Client) SetText(dev, name string, values map[string]string) error {
	p, err := c.defined(dev, name, TextType)
	if err != nil {
		return err
	}
	for elem, v := range values {
		e, ok := p.Element(elem)
		if !ok {
			return unknownElement(dev, name, elem)
		}
		e.Text = v
	}
	return c.SendProperty(p)
}

// SetSwitch applies values to a switch vector, honouring its rule: turning
// a switch on in a OneOfMany or AtMostOne vector turns the others off.
func (c *Client) SetSwitch(dev, name string, values map[string]bool) error {
	p, err := c.defined(dev, name, SwitchType)
	if err != nil {
		return err
	}
	exclusive := p.Rule == OneOfMany || p.Rule == AtMostOne
	for elem, on := range values {
		if _, ok := p.Element(elem); !ok {
			return unknownElement(dev, name, elem)
		}
		if on && exclusive {
			for i := range p.Elements {
				p.Elements[i].Switch = false
			}
		}
	}
	for elem, on := range values {
		e, _ := p.Element(elem)
		e.Switch = on
	}
	return c.SendProperty(p)
}

// EnableBLOB selects whether BLOBs of dev (or one property of it) are sent
// to this client.
func (c *Client) EnableBLOB(dev, name string, mode BLOBMode) error {
	return c.write("enableBLOB", func(w io.Writer) error { return WriteEnableBLOB(w, dev, name, mode) })
}

// GetProperties asks the server to (re)define properties.
func (c *Client) GetProperties(dev, name string) error {
	return c.write("getProperties", func(w io.Writer) error { return WriteGetProperties(w, dev, name) })
}

func (c *Client) write(tag string, fn func(io.Writer) error) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil || !c.connected.Load() {
		return &device.Error{Kind: device.ErrNotConnected, Message: "INDI server is not connected"}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := fn(c.conn); err != nil {
		return &device.Error{Kind: device.ErrTransport, Message: fmt.Sprintf("send %s: %v", tag, err)}
	}
	if c.observer != nil {
		c.observer.ObserveMessage("out", tag)
	}
	c.logger.Debugf("Sent %s", tag)
	return nil
}
