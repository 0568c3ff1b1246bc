// Package alpacatest provides an in-process Alpaca server with scripted
// replies for testing clients.
package alpacatest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
)

// Reply is one scripted answer.
type Reply struct {
	Value        any
	ErrorNumber  int
	ErrorMessage string
}

// Value is a successful reply carrying v.
func Value(v any) Reply { return Reply{Value: v} }

// Fail is an error reply.
func Fail(code int, message string) Reply { return Reply{ErrorNumber: code, ErrorMessage: message} }

// OK is a successful reply without a value.
var OK = Reply{}

// HandlerFunc computes a reply from the request parameters.
type HandlerFunc func(verb string, params url.Values) Reply

// Request is one recorded device API call.
type Request struct {
	Verb                string
	Kind                string
	Number              int
	Method              string
	Params              url.Values
	ClientID            int
	ClientTransactionID uint32
}

type response struct {
	ClientTransactionID uint32 `json:"ClientTransactionID"`
	ServerTransactionID uint32 `json:"ServerTransactionID"`
	ErrorNumber         int    `json:"ErrorNumber"`
	ErrorMessage        string `json:"ErrorMessage"`
	Value               any    `json:"Value,omitempty"`
}

// Server answers device API calls from per-method reply scripts. Each
// script is consumed in order and its last reply repeats. GETs without a
// script answer NotImplemented; PUTs without a script succeed.
type Server struct {
	srv    *httptest.Server
	logger log.FieldLogger

	txCounter atomic.Uint32

	mu          sync.Mutex
	description alpaca.ServerDescription
	devices     []alpaca.DeviceDescription
	scripts     map[string][]Reply
	handlers    map[string]HandlerFunc
	requests    []Request
}

func NewServer() *Server {
	s := &Server{
		logger: log.StandardLogger().WithField("component", "alpacatest"),
		description: alpaca.ServerDescription{
			Name:                "Alpaca Test Server",
			Manufacturer:        "astrobridge",
			ManufacturerVersion: "1.0",
			Location:            "localhost",
		},
		scripts:  make(map[string][]Reply),
		handlers: make(map[string]HandlerFunc),
	}
	s.srv = httptest.NewServer(s.routes())
	return s
}

func (s *Server) Close() { s.srv.Close() }

func (s *Server) URL() string { return s.srv.URL }

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.srv.Listener.Addr().String())
	return host
}

func (s *Server) Port() int {
	return s.srv.Listener.Addr().(*net.TCPAddr).Port
}

func (s *Server) Address() string { return s.srv.Listener.Addr().String() }

func (s *Server) Client(opts ...alpaca.Option) *alpaca.Client {
	return alpaca.NewClient(s.Host(), s.Port(), opts...)
}

func (s *Server) SetDescription(d alpaca.ServerDescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.description = d
}

func (s *Server) AddDevice(d alpaca.DeviceDescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, d)
}

func key(kind string, number int, method string) string {
	return fmt.Sprintf("%s/%d/%s", strings.ToLower(kind), number, strings.ToLower(method))
}

// Script replaces the reply script of a method.
func (s *Server) Script(kind device.Kind, number int, method string, replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[key(kind.ID(), number, method)] = replies
}

// Values scripts a sequence of successful replies.
func (s *Server) Values(kind device.Kind, number int, method string, values ...any) {
	replies := make([]Reply, len(values))
	for i, v := range values {
		replies[i] = Value(v)
	}
	s.Script(kind, number, method, replies...)
}

// Handle installs a dynamic handler, which takes precedence over scripts.
func (s *Server) Handle(kind device.Kind, number int, method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key(kind.ID(), number, method)] = fn
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many calls reached method, for any verb.
func (s *Server) Count(kind device.Kind, number int, method string) int {
	k := key(kind.ID(), number, method)
	n := 0
	for _, r := range s.Requests() {
		if key(r.Kind, r.Number, r.Method) == k {
			n++
		}
	}
	return n
}

// Last returns the most recent call to method.
func (s *Server) Last(kind device.Kind, number int, method string) (Request, bool) {
	k := key(kind.ID(), number, method)
	reqs := s.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if key(reqs[i].Kind, reqs[i].Number, reqs[i].Method) == k {
			return reqs[i], true
		}
	}
	return Request{}, false
}

func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func (s *Server) routes() *http.ServeMux {
	r := http.NewServeMux()
	r.HandleFunc("GET /management/apiversions", s.handleMgm(func() any { return []int{1} }))
	r.HandleFunc("GET /management/v1/description", s.handleMgm(func() any {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.description
	}))
	r.HandleFunc("GET /management/v1/configureddevices", s.handleMgm(func() any {
		s.mu.Lock()
		defer s.mu.Unlock()
		return append([]alpaca.DeviceDescription{}, s.devices...)
	}))
	r.HandleFunc("/api/v1/{kind}/{number}/{method}", s.handleDevice)
	return r
}

func (s *Server) handleMgm(value func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.write(w, 0, Value(value()))
	}
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		http.Error(w, "invalid device number", http.StatusBadRequest)
		return
	}

	var params url.Values
	if r.Method == http.MethodPut {
		// PUT requests have the parameters in the body.
		params, err = parseBodyParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		params = r.URL.Query()
	}

	txID, err := getClientTxID(params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	clientID, _ := strconv.Atoi(lookup(params, "ClientID"))

	req := Request{
		Verb:                r.Method,
		Kind:                r.PathValue("kind"),
		Number:              number,
		Method:              r.PathValue("method"),
		Params:              params,
		ClientID:            clientID,
		ClientTransactionID: txID,
	}
	s.write(w, txID, s.reply(req))
}

func (s *Server) reply(req Request) Reply {
	k := key(req.Kind, req.Number, req.Method)

	s.mu.Lock()
	s.requests = append(s.requests, req)
	fn := s.handlers[k]
	var (
		rep   Reply
		found bool
	)
	if fn == nil {
		if script := s.scripts[k]; len(script) > 0 {
			rep, found = script[0], true
			if len(script) > 1 {
				s.scripts[k] = script[1:]
			}
		}
	}
	s.mu.Unlock()

	switch {
	case fn != nil:
		return fn(req.Verb, req.Params)
	case found:
		return rep
	case req.Verb == http.MethodPut:
		return OK
	}
	return Fail(alpaca.CodeNotImplemented, fmt.Sprintf("%s is not implemented", req.Method))
}

func (s *Server) write(w http.ResponseWriter, txID uint32, rep Reply) {
	resp := response{
		ClientTransactionID: txID,
		ServerTransactionID: s.txCounter.Add(1),
		ErrorNumber:         rep.ErrorNumber,
		ErrorMessage:        rep.ErrorMessage,
		Value:               rep.Value,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Errorf("Error writing response: %v", err)
	}
}

// parseBodyParams reads the request body as URL-encoded data.
func parseBodyParams(r *http.Request) (url.Values, error) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	return url.ParseQuery(string(bodyBytes))
}

// lookup matches parameter names case-insensitively, as Alpaca requires.
func lookup(params url.Values, name string) string {
	for param, value := range params {
		if strings.EqualFold(param, name) && len(value) > 0 {
			return value[0]
		}
	}
	return ""
}

func getClientTxID(params url.Values) (uint32, error) {
	v := lookup(params, "ClientTransactionID")
	if v == "" {
		return 0, fmt.Errorf("missing ClientTransactionID")
	}
	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("ClientTransactionID must be non-negative: %w", err)
	}
	return uint32(id), nil
}

// Param returns a request parameter by case-insensitive name.
func (r Request) Param(name string) string {
	return lookup(r.Params, name)
}
