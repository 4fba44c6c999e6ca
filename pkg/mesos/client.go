// Package mesos talks to the DC/OS and Mesos HTTP endpoints that dcos-node
// needs: the master's state summary, the cluster metadata, and the
// files/read.json API used to read remote log files.
//
// Example Usage:
//
//	client, err := mesos.NewClient(mesos.Endpoints{DCOSURL: "http://dcos.example.com"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	slaves, err := client.StateSummary(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	f := client.MasterFile("/master/log")
//	size, err := f.Size(ctx)
package mesos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dcos/dcos-node/pkg/logger"
)

// MasterLogPath and SlaveLogPath are the files exposed by the files API.
const (
	MasterLogPath = "/master/log"
	SlaveLogPath  = "/slave/log"
)

// maxBodyBytes bounds how much of a response we decode.
const maxBodyBytes = 64 << 20

// Endpoints locates the cluster. Either field may be empty, but not both.
type Endpoints struct {
	DCOSURL        string
	MesosMasterURL string
}

// Client is an HTTP client for the cluster API. Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	dcosURL    string
	masterURL  string
	token      string
	logger     *logger.Logger
}

// ClientOption configures a Client during creation.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithToken sends the DC/OS ACS token on every request.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *logger.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a cluster client. The master URL defaults to <dcos_url>/mesos/.
func NewClient(ep Endpoints, opts ...ClientOption) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		dcosURL:    withSlash(ep.DCOSURL),
		masterURL:  withSlash(ep.MesosMasterURL),
		logger:     logger.Discard(),
	}
	if c.masterURL == "" && c.dcosURL != "" {
		c.masterURL = c.dcosURL + "mesos/"
	}
	if c.masterURL == "" {
		return nil, ErrNoClusterURL
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func withSlash(u string) string {
	if u == "" || strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// MasterURL returns the master base URL with a trailing slash.
func (c *Client) MasterURL() string {
	return c.masterURL
}

// getJSON issues a GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, base, path string, params url.Values, out interface{}) error {
	u := base + strings.TrimPrefix(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &TransportError{URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "token="+c.token)
	}

	c.logger.Debug("GET %s", u)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &TransportError{URL: u, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return &TransportError{URL: u, Err: fmt.Errorf("invalid JSON response: %w", err)}
	}
	return nil
}

type stateSummary struct {
	Slaves []Slave `json:"slaves"`
}

// StateSummary returns the worker nodes known to the leading master.
func (c *Client) StateSummary(ctx context.Context) ([]Slave, error) {
	var summary stateSummary
	if err := c.getJSON(ctx, c.masterURL, "master/state-summary", nil, &summary); err != nil {
		return nil, err
	}
	return summary.Slaves, nil
}

// Metadata is the cluster metadata document.
type Metadata struct {
	PublicIPv4 string `json:"PUBLIC_IPV4"`
	ClusterID  string `json:"CLUSTER_ID"`
}

// Metadata fetches <dcos_url>/metadata. It requires a DC/OS URL.
func (c *Client) Metadata(ctx context.Context) (Metadata, error) {
	if c.dcosURL == "" {
		return Metadata{}, fmt.Errorf("cluster metadata requires a DC/OS URL: %w", ErrNoClusterURL)
	}
	var md Metadata
	if err := c.getJSON(ctx, c.dcosURL, "metadata", nil, &md); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

// slaveBaseURL returns the base URL for a slave's HTTP API: proxied through
// the cluster when a DC/OS URL is known, direct from the PID otherwise.
func (c *Client) slaveBaseURL(s Slave) (string, error) {
	if c.dcosURL != "" {
		return c.dcosURL + "slave/" + url.PathEscape(s.ID) + "/", nil
	}
	pid, err := ParsePID(s.PID)
	if err != nil {
		return "", err
	}
	return "http://" + pid.Addr() + "/", nil
}
