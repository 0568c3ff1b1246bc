// Package alpaca is a client for the ASCOM Alpaca REST protocol.
//
// Documentation: https://ascom-standards.org/api/
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultClientID = 1
	apiVersion      = 1
)

// Observer is notified after every request. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveRequest(kind, method, verb string, elapsed time.Duration, errorNumber int)
}

// Client exchanges JSON documents with one Alpaca server. It is safe for
// concurrent use.
type Client struct {
	host string
	port int
	base string

	httpClient *http.Client
	clientID   uint32
	txCounter  atomic.Uint32
	timeout    atomic.Int64
	connected  atomic.Bool

	observer Observer
	logger   log.FieldLogger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout.Store(int64(d)) }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithClientID(id uint32) Option {
	return func(c *Client) { c.clientID = id }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithLogger(l log.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(host string, port int, opts ...Option) *Client {
	c := &Client{
		host:       host,
		port:       port,
		base:       "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		httpClient: http.DefaultClient,
		clientID:   DefaultClientID,
		logger:     log.StandardLogger(),
	}
	c.timeout.Store(int64(DefaultTimeout))
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "alpaca").WithField("server", c.Address())
	return c
}

// NewClientFromAddress parses "host:port".
func NewClientFromAddress(addr string, opts ...Option) (*Client, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid alpaca address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return nil, fmt.Errorf("invalid alpaca port %q: %w", p, err)
	}
	return NewClient(host, port, opts...), nil
}

func (c *Client) Host() string    { return c.host }
func (c *Client) Port() int       { return c.port }
func (c *Client) Address() string { return net.JoinHostPort(c.host, strconv.Itoa(c.port)) }

func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout.Store(int64(d))
	}
}

func (c *Client) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// Connect sets the request timeout and checks the server answers the
// management description call.
func (c *Client) Connect(ctx context.Context, timeout time.Duration) error {
	c.SetTimeout(timeout)
	desc, err := c.ServerInfo(ctx)
	if err != nil {
		c.connected.Store(false)
		return fmt.Errorf("connect to alpaca server %s: %w", c.Address(), err)
	}
	c.connected.Store(true)
	c.logger.Infof("Connected to %q (%s %s)", desc.Name, desc.Manufacturer, desc.ManufacturerVersion)
	return nil
}

func (c *Client) Disconnect() {
	if c.connected.Swap(false) {
		c.logger.Info("Disconnected")
	}
}

// IsConnected reports whether the last Connect succeeded.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// LastTransactionID returns the most recently issued ClientTransactionID.
func (c *Client) LastTransactionID() uint32 {
	return c.txCounter.Load()
}

// URL returns the device API URL for method.
func (c *Client) URL(kind device.Kind, number int, method string) string {
	return fmt.Sprintf("%s/api/v%d/%s/%d/%s", c.base, apiVersion, kind.ID(), number, strings.ToLower(method))
}

func (c *Client) Get(ctx context.Context, kind device.Kind, number int, method string, params url.Values) *Response {
	return c.do(ctx, http.MethodGet, c.URL(kind, number, method), kind.ID(), method, params)
}

func (c *Client) Put(ctx context.Context, kind device.Kind, number int, method string, params url.Values) *Response {
	return c.do(ctx, http.MethodPut, c.URL(kind, number, method), kind.ID(), method, params)
}

// Action invokes a driver-specific action and returns its string result.
func (c *Client) Action(ctx context.Context, kind device.Kind, number int, action, parameters string) (string, error) {
	resp := c.Put(ctx, kind, number, "action", url.Values{
		"Action":     {action},
		"Parameters": {parameters},
	})
	if err := resp.Err(); err != nil {
		return "", err
	}
	if len(resp.Value) == 0 {
		return "", nil
	}
	return resp.Text()
}

func (c *Client) do(ctx context.Context, verb, endpoint, kind, method string, params url.Values) *Response {
	txID := c.txCounter.Add(1)

	values := url.Values{}
	for k, v := range params {
		values[k] = v
	}
	values.Set("ClientID", strconv.FormatUint(uint64(c.clientID), 10))
	values.Set("ClientTransactionID", strconv.FormatUint(uint64(txID), 10))

	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	var (
		req *http.Request
		err error
	)
	if verb == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, verb, endpoint+"?"+values.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, verb, endpoint, strings.NewReader(values.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return failure(CodeUnspecified, "Failed to build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp := c.send(req)
	if resp.transport {
		resp.ClientTransactionID = txID
	}
	elapsed := time.Since(start)

	if c.observer != nil {
		c.observer.ObserveRequest(kind, method, verb, elapsed, resp.ErrorNumber)
	}

	l := c.logger.WithField("tx", txID)
	if resp.ErrorNumber != 0 {
		l.Debugf("%s %s/%s -> error 0x%X: %s (%s)", verb, kind, method, resp.ErrorNumber, resp.ErrorMessage, elapsed)
	} else {
		l.Debugf("%s %s/%s -> %s (%s)", verb, kind, method, resp.Value, elapsed)
	}
	return resp
}

func (c *Client) send(req *http.Request) *Response {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return failure(CodeUnspecified, "HTTP request failed: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return failure(CodeUnspecified, "Failed to read response: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		return failure(CodeUnspecified, "HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return failure(CodeUnspecified, "Failed to parse response: %v", err)
	}
	return &resp
}
