// Package client is a typed HTTP client for the agentdeck console API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"time"

	cerrdefs "github.com/containerd/errdefs"
)

// Client talks to a running agentdeck server.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ServerName string
	SkipVerify bool
}

// DefaultConfig targets a local server with the default base path.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:3000/api",
		Timeout: 30 * time.Second,
	}
}

func New(config Config) (*Client, error) {
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
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

func setupClientTLS(config Config) (*tls.Config, error) {
	// #nosec G402 skip-verify is an explicit opt-in
	tlsConfig := &tls.Config{InsecureSkipVerify: config.Insecure}
	if config.TLS == nil {
		return tlsConfig, nil
	}
	if config.TLS.SkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}
	tlsConfig.ServerName = config.TLS.ServerName
	if config.TLS.CACert != "" {
		pem, err := os.ReadFile(config.TLS.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// APIError is returned for non-2xx responses. It unwraps to the matching
// errdefs class so callers can use cerrdefs.IsNotFound and friends.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return cerrdefs.ErrInvalidArgument
	case http.StatusForbidden:
		return cerrdefs.ErrPermissionDenied
	case http.StatusNotFound:
		return cerrdefs.ErrNotFound
	case http.StatusConflict:
		return cerrdefs.ErrConflict
	}
	return cerrdefs.ErrUnknown
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do sends body (JSON-encoded unless it is already an io.Reader) and
// decodes a 2xx response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any, contentType string, out any) error {
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		rdr = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
		contentType = "application/json"
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "method", method, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
			er.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, "", &h)
	return h, err
}

func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	err := c.do(ctx, http.MethodGet, "/agents", nil, nil, "", &out)
	return out, err
}

func (c *Client) GetAgent(ctx context.Context, id string) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(id), nil, nil, "", &out)
	return out, err
}

func (c *Client) CreateAgent(ctx context.Context, spec AgentSpec) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodPost, "/agents", nil, spec, "", &out)
	return out, err
}

func (c *Client) UpdateAgent(ctx context.Context, id string, spec AgentSpec) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodPut, "/agents/"+url.PathEscape(id), nil, spec, "", &out)
	return out, err
}

func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/agents/"+url.PathEscape(id), nil, nil, "", nil)
}

// Report sends a heartbeat on behalf of agent id.
func (c *Client) Report(ctx context.Context, id string, r Report) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodPatch, "/agents/"+url.PathEscape(id), nil, r, "", &out)
	return out, err
}

// Control runs START, STOP or RESTART.
func (c *Client) Control(ctx context.Context, id, action string) (ControlResponse, error) {
	var out ControlResponse
	err := c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(id)+"/control", nil, map[string]string{"action": action}, "", &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, id string) (AgentStatus, error) {
	var out AgentStatus
	err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(id)+"/status", nil, nil, "", &out)
	return out, err
}

func (c *Client) Logs(ctx context.Context, id string) (Logs, error) {
	var out Logs
	err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(id)+"/logs", nil, nil, "", &out)
	return out, err
}

func (c *Client) ListFiles(ctx context.Context, id, dir string) (FileList, error) {
	var out FileList
	q := url.Values{}
	if dir != "" {
		q.Set("path", dir)
	}
	err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(id)+"/files", q, nil, "", &out)
	return out, err
}

func (c *Client) ReadFile(ctx context.Context, id, file string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(id)+"/files/content", url.Values{"file": {file}}, nil, "", &out)
	return out.Content, err
}

func (c *Client) WriteFile(ctx context.Context, id, file, content string) error {
	body := map[string]string{"fileName": file, "content": content}
	return c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(id)+"/files/content", nil, body, "", nil)
}

func (c *Client) DeleteFile(ctx context.Context, id, file string) error {
	return c.do(ctx, http.MethodDelete, "/agents/"+url.PathEscape(id)+"/files", nil, map[string]string{"filePath": file}, "", nil)
}

// CreateFile creates an empty file name inside dir.
func (c *Client) CreateFile(ctx context.Context, id, dir, name string) error {
	return c.form(ctx, id, map[string]string{"action": "createFile", "currentPath": dir, "fileName": name}, nil, nil)
}

func (c *Client) CreateFolder(ctx context.Context, id, dir, name string) error {
	return c.form(ctx, id, map[string]string{"action": "createFolder", "currentPath": dir, "folderName": name}, nil, nil)
}

// UploadFile is one file of an Upload. RelativePath may contain
// subdirectories, which are created under the target directory.
type UploadFile struct {
	RelativePath string
	Content      io.Reader
}

func (c *Client) Upload(ctx context.Context, id, dir string, files []UploadFile) (UploadResult, error) {
	var out UploadResult
	err := c.form(ctx, id, map[string]string{"action": "upload", "currentPath": dir}, files, &out)
	return out, err
}

func (c *Client) form(ctx context.Context, id string, fields map[string]string, files []UploadFile, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := mw.WriteField("relativePaths", f.RelativePath); err != nil {
			return err
		}
		fw, err := mw.CreateFormFile("files", f.RelativePath)
		if err != nil {
			return err
		}
		if _, err := io.Copy(fw, f.Content); err != nil {
			return fmt.Errorf("read %s: %w", f.RelativePath, err)
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(id)+"/files", nil, &buf, mw.FormDataContentType(), out)
}
