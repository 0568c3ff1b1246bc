// Package api serves the façade over HTTP: a JSON API for servers, devices
// and properties, the event stream, metrics and a setup page backed by the
// profile store.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
	"astrobridge/pkg/facade"
	"astrobridge/pkg/store"
)

// Global transaction counter
var txCounter atomic.Uint32

type response struct {
	TransactionID uint32 `json:"transactionId"`
	Value         any    `json:"value,omitempty"`
	Error         string `json:"error,omitempty"`
	Kind          string `json:"kind,omitempty"`
	Code          int    `json:"code,omitempty"`
}

type Option func(*Server)

// WithEvents mounts h, usually an eventbridge.WSHub, at /events.
func WithEvents(h http.Handler) Option {
	return func(s *Server) { s.events = h }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithLogger(l log.FieldLogger) Option {
	return func(s *Server) { s.logger = l }
}

// Server routes HTTP requests to the façade.
type Server struct {
	facade  *facade.Facade
	store   *store.Store
	tmpl    *template.Template
	events  http.Handler
	metrics http.Handler
	logger  log.FieldLogger
}

func NewServer(f *facade.Facade, st *store.Store, tmpl *template.Template, opts ...Option) *Server {
	s := &Server{facade: f, store: st, tmpl: tmpl, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "api")
	return s
}

func (s *Server) AddRoutes() *http.ServeMux {
	r := http.NewServeMux()

	r.Handle("GET /api/servers", s.handle(s.handleServers))
	r.Handle("POST /api/servers", s.handle(s.handleConnectServer))
	r.Handle("DELETE /api/servers/{backend}/{address}", s.handle(s.handleDisconnectServer))
	r.Handle("GET /api/discover", s.handle(s.handleDiscover))

	r.Handle("GET /api/devices", s.handle(s.handleDevices))
	r.Handle("PUT /api/devices/{device}/connect", s.handle(s.handleConnectDevice))
	r.Handle("PUT /api/devices/{device}/disconnect", s.handle(s.handleDisconnectDevice))
	r.Handle("GET /api/devices/{device}/properties", s.handle(s.handleProperties))
	r.Handle("GET /api/devices/{device}/properties/{property}", s.handle(s.handleGetProperty))
	r.Handle("PUT /api/devices/{device}/properties/{property}", s.handle(s.handleSetProperty))
	r.Handle("PUT /api/devices/{device}/action", s.handle(s.handleAction))

	if s.tmpl != nil && s.store != nil {
		r.HandleFunc("/setup", s.handleSetup)
	}
	if s.events != nil {
		r.Handle("GET /events", s.events)
	}
	if s.metrics != nil {
		r.Handle("GET /metrics", s.metrics)
	}
	return r
}

func (s *Server) handle(fn func(r *http.Request) (any, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value, err := fn(r)
		resp := response{TransactionID: txCounter.Add(1), Value: value}
		status := http.StatusOK
		if err != nil {
			status = statusOf(err)
			resp.Value = nil
			resp.Error = err.Error()
			resp.Kind = device.KindName(err)
			resp.Code = device.CodeOf(err)
			s.logger.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	})
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch device.KindOf(err) {
	case device.ErrInvalidValue, device.ErrValueNotSet:
		return http.StatusBadRequest
	case device.ErrNotImplemented, device.ErrActionNotImplemented:
		return http.StatusNotFound
	case device.ErrNotConnected, device.ErrInvalidOperation, device.ErrInvalidWhileParked, device.ErrInvalidWhileSlaved:
		return http.StatusConflict
	case device.ErrTimeout:
		return http.StatusGatewayTimeout
	case device.ErrTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func invalid(format string, args ...any) error {
	return device.Errorf(device.ErrInvalidValue, format, args...)
}

// parseBody decodes a JSON object or, for other content types, the form
// fields of the request into a map.
func parseBody(r *http.Request) (map[string]any, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, invalid("invalid JSON body: %v", err)
		}
		return body, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, invalid("error parsing form: %v", err)
	}
	body := make(map[string]any, len(r.Form))
	for k, v := range r.Form {
		body[k] = v[0]
	}
	return body, nil
}

func field(body map[string]any, name string) (any, error) {
	for k, v := range body {
		if strings.EqualFold(k, name) {
			return v, nil
		}
	}
	return nil, invalid("missing field %q", name)
}

func stringField(body map[string]any, name string) (string, error) {
	v, err := field(body, name)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

func (s *Server) handleServers(r *http.Request) (any, error) {
	return s.facade.Servers(), nil
}

func (s *Server) handleConnectServer(r *http.Request) (any, error) {
	body, err := parseBody(r)
	if err != nil {
		return nil, err
	}
	srv := store.Server{}
	if v, err := stringField(body, "backend"); err != nil {
		return nil, err
	} else if srv.Backend, err = device.ParseBackend(v); err != nil {
		return nil, invalid("%v", err)
	}
	if srv.Host, err = stringField(body, "host"); err != nil {
		return nil, err
	}
	port, err := stringField(body, "port")
	if err != nil {
		return nil, err
	}
	if srv.Port, err = strconv.Atoi(port); err != nil {
		return nil, invalid("invalid port %q", port)
	}

	if err := s.facade.ConnectServer(r.Context(), srv.Backend, srv.Host, srv.Port); err != nil {
		return nil, err
	}
	if save, _ := field(body, "save"); s.store != nil && (save == true || save == "true") {
		if err := s.store.SaveServer(srv); err != nil {
			return nil, err
		}
	}
	return s.facade.Servers(), nil
}

func (s *Server) handleDisconnectServer(r *http.Request) (any, error) {
	backend, err := device.ParseBackend(r.PathValue("backend"))
	if err != nil {
		return nil, invalid("%v", err)
	}
	return nil, s.facade.DisconnectServer(backend, r.PathValue("address"))
}

func (s *Server) handleDiscover(r *http.Request) (any, error) {
	timeout := facade.DefaultDiscoverTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, invalid("invalid timeout %q", v)
		}
		timeout = d
	}
	return s.facade.DiscoverServers(r.Context(), timeout)
}

func (s *Server) handleDevices(r *http.Request) (any, error) {
	return s.facade.GetDevices(), nil
}

func (s *Server) handleConnectDevice(r *http.Request) (any, error) {
	return nil, s.facade.ConnectDevice(r.PathValue("device"))
}

func (s *Server) handleDisconnectDevice(r *http.Request) (any, error) {
	return nil, s.facade.DisconnectDevice(r.PathValue("device"))
}

func (s *Server) handleProperties(r *http.Request) (any, error) {
	return s.facade.Properties(r.PathValue("device"))
}

func (s *Server) handleGetProperty(r *http.Request) (any, error) {
	return s.facade.GetProperty(r.PathValue("device"), r.PathValue("property"))
}

func (s *Server) handleSetProperty(r *http.Request) (any, error) {
	body, err := parseBody(r)
	if err != nil {
		return nil, err
	}
	value, _ := field(body, "value")
	return nil, s.facade.SetProperty(r.PathValue("device"), r.PathValue("property"), value)
}

func (s *Server) handleAction(r *http.Request) (any, error) {
	body, err := parseBody(r)
	if err != nil {
		return nil, err
	}
	action, err := stringField(body, "action")
	if err != nil {
		return nil, err
	}
	params, _ := stringField(body, "parameters")
	return s.facade.ExecuteAction(r.PathValue("device"), action, params)
}

// handleSetup shows and edits the stored MQTT bridge settings.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.store.MQTTConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.renderSetupForm(w, cfg, false, "")

	case http.MethodPost:
		cfg, err := parseSetupForm(r)
		if err != nil {
			s.renderSetupForm(w, cfg, false, err.Error())
			return
		}

		s.logger.Infof("Setting MQTT config: broker %s, topic root %s", cfg.Broker, cfg.TopicRoot)
		if err := s.store.SetMQTTConfig(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.renderSetupForm(w, cfg, true, "")

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) renderSetupForm(w http.ResponseWriter, cfg store.MQTTConfig, success bool, errMsg string) {
	servers, err := s.store.Servers()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data := struct {
		MQTT     store.MQTTConfig
		Servers  []store.Server
		Attached []facade.ServerInfo
		Success  bool
		Error    string
	}{cfg, servers, s.facade.Servers(), success, errMsg}

	if err := s.tmpl.ExecuteTemplate(w, "setup.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseSetupForm(r *http.Request) (store.MQTTConfig, error) {
	if err := r.ParseForm(); err != nil {
		return store.MQTTConfig{}, fmt.Errorf("error parsing form: %v", err)
	}

	cfg := store.MQTTConfig{
		Enabled:   r.FormValue("mqtt-enabled") == "on",
		Broker:    r.FormValue("mqtt-broker"),
		Username:  r.FormValue("mqtt-username"),
		Password:  r.FormValue("mqtt-password"),
		ClientID:  r.FormValue("mqtt-client-id"),
		TopicRoot: r.FormValue("mqtt-topic-root"),
		Retain:    r.FormValue("mqtt-retain") == "on",
	}
	if cfg.Broker == "" {
		return cfg, fmt.Errorf("broker is required")
	}
	if cfg.TopicRoot == "" {
		return cfg, fmt.Errorf("topic root is required")
	}
	if v := r.FormValue("mqtt-qos"); v != "" {
		qos, err := strconv.Atoi(v)
		if err != nil || qos < 0 || qos > 2 {
			return cfg, fmt.Errorf("QoS must be 0, 1 or 2")
		}
		cfg.QoS = byte(qos)
	}
	return cfg, nil
}

// ListenAndServe runs srv until ctx is done, then shuts it down gracefully.
func ListenAndServe(ctx context.Context, srv *http.Server, logger log.FieldLogger) error {
	errc := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}
	return <-errc
}
