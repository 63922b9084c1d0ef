// Package lava talks to a LAVA server's XML-RPC API to put devices marked
// Bad back into the health-check cycle.
package lava

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/rpc"
	"net/url"
	"strconv"

	"github.com/kolo/xmlrpc"

	dterrors "github.com/davidroman0O/dutssh/errors"
)

// Health values reported and accepted by the scheduler
const (
	HealthBad     = "Bad"
	HealthUnknown = "UNKNOWN"
)

// Endpoint identifies a LAVA server and the API token used against it
type Endpoint struct {
	Scheme   string
	Host     string
	Username string
	Token    string
}

// URL returns <scheme>://<user>:<token>@<host>/RPC2
func (e Endpoint) URL() string {
	u := url.URL{Scheme: e.Scheme, Host: e.Host, Path: "/RPC2"}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Token)
	}
	return u.String()
}

// String returns the URL with the token masked, for logs
func (e Endpoint) String() string {
	if e.Token == "" {
		return e.URL()
	}
	masked := e
	masked.Token = "xxxxx"
	return masked.URL()
}

// DeviceStatus is one entry of scheduler.devices.list
type DeviceStatus struct {
	Hostname string `xmlrpc:"hostname"`
	Type     string `xmlrpc:"type"`
	Health   string `xmlrpc:"health"`
	State    string `xmlrpc:"state"`
}

// Scheduler is the subset of the scheduler API used by the health reset
type Scheduler interface {
	ListDevices(ctx context.Context) ([]DeviceStatus, error)
	UpdateHealth(ctx context.Context, hostname, worker, health, reason string) error
}

// Client is a Scheduler backed by XML-RPC
type Client struct {
	endpoint Endpoint
	rpc      *xmlrpc.Client
}

// NewClient creates a client for e. A nil transport uses http.DefaultTransport.
func NewClient(e Endpoint, transport http.RoundTripper) (*Client, error) {
	if e.Host == "" {
		return nil, dterrors.New(dterrors.ErrUnexpected, "LAVA host is not configured")
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	c, err := xmlrpc.NewClient(e.URL(), &nilValueTransport{base: transport})
	if err != nil {
		return nil, dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to create XML-RPC client")
	}
	return &Client{endpoint: e, rpc: c}, nil
}

// call runs method and waits for it, or for ctx to be done
func (c *Client) call(ctx context.Context, method string, args interface{}, reply interface{}) error {
	log.Printf("[LAVA] %s %s", c.endpoint, method)

	pending := c.rpc.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case done := <-pending.Done:
		if done.Error != nil {
			return dterrors.Wrap(done.Error, dterrors.ErrUnexpected, method+" failed")
		}
		return nil
	case <-ctx.Done():
		return dterrors.Wrap(ctx.Err(), dterrors.ErrInterrupted, method+" interrupted")
	}
}

// ListDevices calls scheduler.devices.list
func (c *Client) ListDevices(ctx context.Context) ([]DeviceStatus, error) {
	var devices []DeviceStatus
	if err := c.call(ctx, "scheduler.devices.list", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// UpdateHealth calls scheduler.devices.update with the positional arguments
// (hostname, worker, nil, nil, true, health, reason).
func (c *Client) UpdateHealth(ctx context.Context, hostname, worker, health, reason string) error {
	var none *string
	var workerArg interface{} = worker
	if worker == "" {
		workerArg = none
	}
	args := []interface{}{hostname, workerArg, none, none, true, health, reason}
	return c.call(ctx, "scheduler.devices.update", args, nil)
}

// Close releases the underlying HTTP connections
func (c *Client) Close() error {
	return c.rpc.Close()
}

var (
	emptyValue = []byte("<value/>")
	nilValue   = []byte("<value><nil/></value>")
)

// nilValueTransport rewrites the empty <value/> that the XML-RPC encoder
// emits for nil pointers into the <nil/> extension LAVA expects for None.
type nilValueTransport struct {
	base http.RoundTripper
}

func (t *nilValueTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil {
		return t.base.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	body = bytes.ReplaceAll(body, emptyValue, nilValue)

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return t.base.RoundTrip(out)
}
