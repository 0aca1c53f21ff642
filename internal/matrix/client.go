package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"keyward/internal/domain"
)

// API paths.
const (
	PathKeysQuery  = "/_matrix/client/v3/keys/query"
	PathKeysUpload = "/_matrix/client/v3/keys/upload"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 8 << 20

// queryTimeoutMillis is sent as the federation timeout of /keys/query.
const queryTimeoutMillis = 10_000

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL, e.g. "https://matrix.example.org".
	HomeserverURL string
	AccessToken   string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Logger defaults to discarding output.
	Logger *slog.Logger
}

// Client talks to one homeserver as one device.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

var _ domain.KeysClient = (*Client)(nil)

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: HomeserverURL is required")
	}
	if _, err := url.Parse(cfg.HomeserverURL); err != nil {
		return nil, fmt.Errorf("matrix: invalid HomeserverURL %q: %w", cfg.HomeserverURL, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.HomeserverURL, "/"),
		token:      cfg.AccessToken,
		httpClient: httpClient,
		log:        logger,
	}, nil
}

// QueryKeys fetches all device keys of users. An empty token omits it.
func (c *Client) QueryKeys(ctx context.Context, users []domain.UserID, token domain.SyncToken) (*domain.QueryKeysResponse, error) {
	req := domain.QueryKeysRequest{
		DeviceKeys: make(map[domain.UserID][]domain.DeviceID, len(users)),
		Token:      token,
		Timeout:    queryTimeoutMillis,
	}
	for _, u := range users {
		req.DeviceKeys[u] = []domain.DeviceID{}
	}
	var out domain.QueryKeysResponse
	if err := c.post(ctx, PathKeysQuery, req, &out); err != nil {
		return nil, fmt.Errorf("matrix: keys query: %w", err)
	}
	c.log.Debug("queried device keys", "users", len(users), "answered", len(out.DeviceKeys), "failures", len(out.Failures))
	return &out, nil
}

// UploadKeys publishes oneTimeKeys and, when non-nil, deviceKeys.
func (c *Client) UploadKeys(
	ctx context.Context,
	oneTimeKeys map[string]domain.OneTimeKey,
	deviceKeys *domain.DeviceKeys,
) (*domain.UploadKeysResponse, error) {
	req := domain.UploadKeysRequest{DeviceKeys: deviceKeys, OneTimeKeys: oneTimeKeys}
	var out domain.UploadKeysResponse
	if err := c.post(ctx, PathKeysUpload, req, &out); err != nil {
		return nil, fmt.Errorf("matrix: keys upload: %w", err)
	}
	c.log.Debug("uploaded keys", "one_time_keys", len(oneTimeKeys), "device_keys", deviceKeys != nil)
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var merr MatrixError
		if jsonErr := json.Unmarshal(respBody, &merr); jsonErr != nil || merr.Code == "" {
			return fmt.Errorf("unexpected %s from POST %s: %s", resp.Status, path, strings.TrimSpace(string(respBody)))
		}
		merr.StatusCode = resp.StatusCode
		return &merr
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
