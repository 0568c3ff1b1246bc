// Package inditest provides a loopback INDI server for testing clients.
package inditest

import (
	"encoding/xml"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
)

// NewHandler is called for every new*Vector a client sends. The property
// carries the values as sent.
type NewHandler func(s *Server, p *indiclient.Property)

// Server is a minimal INDI server. Properties defined on it are announced to
// clients on getProperties; updates are pushed to every connected client.
type Server struct {
	ln     net.Listener
	logger log.FieldLogger

	mu       sync.Mutex
	props    map[indiclient.Key]*indiclient.Property
	order    []indiclient.Key
	clients  map[net.Conn]*sync.Mutex
	received []*indiclient.Property
	control  []indiclient.Message
	onNew    NewHandler

	wg sync.WaitGroup
}

// NewServer listens on an ephemeral loopback port. By default every new
// vector is applied and answered with state Ok; see OnNew.
func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:      ln,
		logger:  log.StandardLogger().WithField("component", "inditest"),
		props:   make(map[indiclient.Key]*indiclient.Property),
		clients: make(map[net.Conn]*sync.Mutex),
		onNew:   Acknowledge,
	}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

// Acknowledge applies p and reports it back with state Ok.
func Acknowledge(s *Server, p *indiclient.Property) {
	p.State = device.PropertyOk
	s.Update(p)
}

// Ignore leaves new vectors unanswered.
func Ignore(*Server, *indiclient.Property) {}

func (s *Server) Host() string { return "127.0.0.1" }

func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

func (s *Server) Addr() string { return s.ln.Addr().String() }

// OnNew replaces the handler for client writes.
func (s *Server) OnNew(h NewHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNew = h
}

func (s *Server) Close() {
	s.ln.Close()
	s.DropClients()
	s.wg.Wait()
}

// DropClients closes every client connection, simulating a server restart.
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.Close()
	}
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Define stores p and announces it to connected clients.
func (s *Server) Define(p *indiclient.Property) {
	p = p.Clone()
	s.mu.Lock()
	if _, ok := s.props[p.Key()]; !ok {
		s.order = append(s.order, p.Key())
	}
	s.props[p.Key()] = p
	s.mu.Unlock()
	s.broadcast(func(w io.Writer) error { return indiclient.WriteVector(w, indiclient.VerbDef, p) })
}

// Update merges u into the stored property and pushes a set vector.
func (s *Server) Update(u *indiclient.Property) {
	s.mu.Lock()
	p, ok := s.props[u.Key()]
	if !ok {
		s.mu.Unlock()
		s.logger.Warnf("Update of undefined property %s.%s", u.Device, u.Name)
		return
	}
	p.Merge(u)
	out := p.Clone()
	s.mu.Unlock()

	// Only the updated elements go on the wire.
	sel := map[string]bool{}
	for _, e := range u.Elements {
		sel[e.Name] = true
	}
	kept := out.Elements[:0]
	for _, e := range out.Elements {
		if sel[e.Name] {
			kept = append(kept, e)
		}
	}
	out.Elements = kept
	s.broadcast(func(w io.Writer) error { return indiclient.WriteVector(w, indiclient.VerbSet, out) })
}

// SetNumber updates number elements with the given state.
func (s *Server) SetNumber(dev, name string, state device.PropertyState, values map[string]float64) {
	u := &indiclient.Property{Device: dev, Name: name, Type: indiclient.NumberType, State: state}
	for k, v := range values {
		u.Elements = append(u.Elements, indiclient.Element{Name: k, Number: v})
	}
	s.Update(u)
}

// SetSwitch updates switch elements with the given state.
func (s *Server) SetSwitch(dev, name string, state device.PropertyState, values map[string]bool) {
	u := &indiclient.Property{Device: dev, Name: name, Type: indiclient.SwitchType, State: state}
	for k, v := range values {
		u.Elements = append(u.Elements, indiclient.Element{Name: k, Switch: v})
	}
	s.Update(u)
}

// SetText updates text elements with the given state.
func (s *Server) SetText(dev, name string, state device.PropertyState, values map[string]string) {
	u := &indiclient.Property{Device: dev, Name: name, Type: indiclient.TextType, State: state}
	for k, v := range values {
		u.Elements = append(u.Elements, indiclient.Element{Name: k, Text: v})
	}
	s.Update(u)
}

// SetState changes only the state of a property.
func (s *Server) SetState(dev, name string, state device.PropertyState) {
	s.mu.Lock()
	p, ok := s.props[indiclient.Key{Device: dev, Name: name}]
	var u *indiclient.Property
	if ok {
		u = p.Clone()
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	u.State = state
	s.Update(u)
}

// SendBLOB pushes a BLOB payload.
func (s *Server) SendBLOB(dev, name, elem, format string, data []byte) {
	s.Update(&indiclient.Property{
		Device: dev,
		Name:   name,
		Type:   indiclient.BLOBType,
		State:  device.PropertyOk,
		Elements: []indiclient.Element{
			{Name: elem, BLOB: data, BLOBFormat: format, BLOBSize: len(data)},
		},
	})
}

func (s *Server) Delete(dev, name string) {
	s.mu.Lock()
	kept := s.order[:0]
	for _, k := range s.order {
		if k.Device == dev && (name == "" || k.Name == name) {
			delete(s.props, k)
			continue
		}
		kept = append(kept, k)
	}
	s.order = kept
	s.mu.Unlock()
	s.broadcast(func(w io.Writer) error { return indiclient.WriteDelProperty(w, dev, name) })
}

func (s *Server) Message(dev, text string) {
	s.broadcast(func(w io.Writer) error { return indiclient.WriteMessage(w, dev, text) })
}

// Property returns the server-side copy of a property.
func (s *Server) Property(dev, name string) (*indiclient.Property, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.props[indiclient.Key{Device: dev, Name: name}]
	return p.Clone(), ok
}

// Received returns the new vectors sent by clients, oldest first.
func (s *Server) Received() []*indiclient.Property {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*indiclient.Property, len(s.received))
	for i, p := range s.received {
		out[i] = p.Clone()
	}
	return out
}

// ReceivedFor filters Received by property.
func (s *Server) ReceivedFor(dev, name string) []*indiclient.Property {
	var out []*indiclient.Property
	for _, p := range s.Received() {
		if p.Device == dev && p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Control returns getProperties and enableBLOB requests seen so far.
func (s *Server) Control() []indiclient.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]indiclient.Message(nil), s.control...)
}

// WaitForReceived waits until n new vectors for the property have arrived.
func (s *Server) WaitForReceived(dev, name string, n int, timeout time.Duration) bool {
	ok, _ := device.Poll(timeout, nil, func() (bool, error) {
		return len(s.ReceivedFor(dev, name)) >= n, nil
	})
	return ok
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.clients[conn] = &sync.Mutex{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	dec := xml.NewDecoder(conn)
	for {
		m, err := indiclient.ReadMessage(dec)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debugf("Client read error: %v", err)
			}
			return
		}

		switch {
		case m.Property != nil && m.Verb == indiclient.VerbNew:
			s.mu.Lock()
			s.received = append(s.received, m.Property.Clone())
			h := s.onNew
			s.mu.Unlock()
			h(s, m.Property)
		case m.Tag == "getProperties":
			s.mu.Lock()
			s.control = append(s.control, *m)
			var defs []*indiclient.Property
			for _, k := range s.order {
				if (m.Device == "" || k.Device == m.Device) && (m.Name == "" || k.Name == m.Name) {
					defs = append(defs, s.props[k].Clone())
				}
			}
			s.mu.Unlock()
			for _, p := range defs {
				s.send(conn, func(w io.Writer) error { return indiclient.WriteVector(w, indiclient.VerbDef, p) })
			}
		default:
			s.mu.Lock()
			s.control = append(s.control, *m)
			s.mu.Unlock()
		}
	}
}

func (s *Server) send(conn net.Conn, fn func(io.Writer) error) {
	s.mu.Lock()
	wmu, ok := s.clients[conn]
	s.mu.Unlock()
	if !ok {
		return
	}
	wmu.Lock()
	defer wmu.Unlock()
	if err := fn(conn); err != nil {
		s.logger.Debugf("Client write error: %v", err)
	}
}

func (s *Server) broadcast(fn func(io.Writer) error) {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		s.send(c, fn)
	}
}
