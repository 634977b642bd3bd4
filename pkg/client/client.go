package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// ErrCycleRunning is returned by RunCleanup when the server already runs a cycle.
var ErrCycleRunning = errors.New("cleanup cycle already running")

// Client provides HTTP client functionality to communicate with the swabra daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8111/api",
		Timeout: 30 * time.Second,
	}
}

// DefaultTLSConfig returns default TLS client configuration
func DefaultTLSConfig() Config {
	return Config{
		BaseURL: "https://localhost:8111/api",
		Timeout: 30 * time.Second,
		TLS: &TLSClientConfig{
			Enabled: true,
		},
	}
}

// New creates a new swabra API client with TLS support
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/build-types", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// RecentCauses returns the configurations which recently caused a clean
// checkout of buildTypeID.
func (c *Client) RecentCauses(ctx context.Context, buildTypeID string) ([]string, error) {
	var out CausesResponse
	if err := c.do(ctx, http.MethodGet, "/causes/"+url.PathEscape(buildTypeID), nil, &out); err != nil {
		return nil, err
	}
	return out.Causes, nil
}

// BuildFinished reports a finished build.
func (c *Client) BuildFinished(ctx context.Context, run Run) error {
	c.logger.Debug("Reporting finished build", "build", run.ID, "build_type", run.BuildTypeID)
	return c.do(ctx, http.MethodPost, "/events/build-finished", run, nil)
}

// RequiredTools asks which tools run needs on its agent.
func (c *Client) RequiredTools(ctx context.Context, run Run) (Requirement, error) {
	var out Requirement
	err := c.do(ctx, http.MethodPost, "/tools/required", run, &out)
	return out, err
}

// ToolStatus returns the tool installed on the server.
func (c *Client) ToolStatus(ctx context.Context) (ToolStatus, error) {
	var out ToolStatus
	err := c.do(ctx, http.MethodGet, "/tools/handle", nil, &out)
	return out, err
}

// DownloadTool makes the server fetch and install the tool.
func (c *Client) DownloadTool(ctx context.Context) (ToolStatus, error) {
	var out ToolStatus
	err := c.do(ctx, http.MethodPost, "/tools/handle/download", nil, &out)
	return out, err
}

// RunCleanup runs a cleanup cycle on the server and waits for its report.
// It returns ErrCycleRunning when a cycle is already in progress.
func (c *Client) RunCleanup(ctx context.Context) (CleanupReport, error) {
	var out CleanupReport
	err := c.do(ctx, http.MethodPost, "/cleanup", nil, &out)
	return out, err
}

// StartCleanup starts a cleanup cycle without waiting for it.
func (c *Client) StartCleanup(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/cleanup?async=1", nil, nil)
}

// InterruptCleanup asks the running cycle to stop and reports whether one was running.
func (c *Client) InterruptCleanup(ctx context.Context) (bool, error) {
	var out struct {
		Interrupted bool `json:"interrupted"`
	}
	err := c.do(ctx, http.MethodPost, "/cleanup/interrupt", nil, &out)
	return out.Interrupted, err
}

// BuildTypes lists the configurations known to the server.
func (c *Client) BuildTypes(ctx context.Context) ([]BuildType, error) {
	var out []BuildType
	err := c.do(ctx, http.MethodGet, "/build-types", nil, &out)
	return out, err
}

// PutBuildType creates or replaces a configuration.
func (c *Client) PutBuildType(ctx context.Context, bt BuildType) error {
	return c.do(ctx, http.MethodPut, "/build-types/"+url.PathEscape(bt.ID), bt, nil)
}

// DeleteBuildType removes a configuration and the causes it owns.
func (c *Client) DeleteBuildType(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/build-types/"+url.PathEscape(id), nil, nil)
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// do sends body as JSON (when non-nil) and decodes a 2xx response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusConflict {
		return ErrCycleRunning
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}
