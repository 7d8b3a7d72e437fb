package buz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Sentinel errors for the two failure classes callers care about. Wrapped
// errors carry status and body detail; check with errors.Is.
var (
	// ErrAuthorization covers token failures and 401/403 responses.
	ErrAuthorization = errors.New("boekuwzending: authorization failed")
	// ErrRequest covers every other non-2xx response.
	ErrRequest = errors.New("boekuwzending: request failed")
)

const (
	liveBaseURL = "https://api.boekuwzending.com"
	testBaseURL = "https://api.staging.boekuwzending.com"
)

// ClientConfig holds the API credentials and environment selection.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	TestMode     bool
}

// Client is an HTTP client for the Boekuwzending platform API. It manages a
// client-credentials bearer token and refreshes it on expiry. Safe for
// concurrent use.
type Client struct {
	config     ClientConfig
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	authToken   string
	tokenExpiry time.Time
}

// NewClient creates a new platform API client.
func NewClient(config ClientConfig) *Client {
	base := liveBaseURL
	if config.TestMode {
		base = testBaseURL
	}
	return &Client{
		config:  config,
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the API base URL in use. Tests override it via SetBaseURL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetBaseURL points the client at a different API host.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimRight(base, "/")
}

// Authorize fetches a bearer token for the given scopes, replacing any cached
// token. Most callers never need this directly; every request authenticates
// lazily.
func (c *Client) Authorize(ctx context.Context, scopes ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = ""
	c.tokenExpiry = time.Time{}
	return c.authenticate(ctx, scopes...)
}

// authenticate gets a token via the client-credentials grant. Caller must
// hold c.mu.
func (c *Client) authenticate(ctx context.Context, scopes ...string) error {
	if c.authToken != "" && time.Now().Before(c.tokenExpiry) {
		return nil
	}

	payload := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.config.ClientID,
		"client_secret": c.config.ClientSecret,
	}
	if len(scopes) > 0 {
		payload["scope"] = strings.Join(scopes, " ")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthorization, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: token endpoint returned status %d: %s", ErrAuthorization, resp.StatusCode, string(bodyBytes))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("%w: failed to decode token response: %v", ErrAuthorization, err)
	}

	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	c.authToken = tokenResp.AccessToken
	// Refresh a minute early so in-flight requests never race expiry.
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn-60) * time.Second)

	return nil
}

// do performs an authenticated JSON request and decodes the response into out
// (skipped when out is nil). Non-2xx responses map to the sentinel errors.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	body, err := c.doRaw(ctx, method, path, payload, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// doRaw performs an authenticated request and returns the raw response body.
func (c *Client) doRaw(ctx context.Context, method, path string, payload interface{}, accept string) ([]byte, error) {
	c.mu.Lock()
	err := c.authenticate(ctx)
	token := c.authToken
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s %s returned status %d: %s", ErrAuthorization, method, path, resp.StatusCode, string(bodyBytes))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s %s returned status %d: %s", ErrRequest, method, path, resp.StatusCode, string(bodyBytes))
	}

	return bodyBytes, nil
}

// Me returns the authenticated account, useful as a connectivity check.
func (c *Client) Me(ctx context.Context) (*Account, error) {
	var account Account
	if err := c.do(ctx, http.MethodGet, "/me", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetMatrix asks the platform to price a shipment draft against the
// configured rate matrices.
func (c *Client) GetMatrix(ctx context.Context, draft ShipmentDraft) (*Matrix, error) {
	var matrix Matrix
	if err := c.do(ctx, http.MethodPost, "/matrices/calculate", draft, &matrix); err != nil {
		return nil, err
	}
	return &matrix, nil
}

// RequestRates returns ad-hoc service quotes for a shipment draft, without
// involving rate matrices.
func (c *Client) RequestRates(ctx context.Context, draft ShipmentDraft) ([]ServiceQuote, error) {
	var quotes []ServiceQuote
	if err := c.do(ctx, http.MethodPost, "/rates/request", draft, &quotes); err != nil {
		return nil, err
	}
	return quotes, nil
}

// CreateShipment books a shipment and returns it with its labels.
func (c *Client) CreateShipment(ctx context.Context, draft ShipmentDraft) (*Shipment, error) {
	var shipment Shipment
	if err := c.do(ctx, http.MethodPost, "/shipments", draft, &shipment); err != nil {
		return nil, err
	}
	return &shipment, nil
}

// GetShipment retrieves a booked shipment by id.
func (c *Client) GetShipment(ctx context.Context, id string) (*Shipment, error) {
	var shipment Shipment
	if err := c.do(ctx, http.MethodGet, "/shipments/"+id, nil, &shipment); err != nil {
		return nil, err
	}
	return &shipment, nil
}

// DownloadShipmentLabels returns the PDF label document for one shipment.
func (c *Client) DownloadShipmentLabels(ctx context.Context, id string) ([]byte, error) {
	return c.doRaw(ctx, http.MethodGet, "/shipments/"+id+"/labels", nil, "application/pdf")
}

// DownloadLabels returns a combined PDF label document for several shipments.
func (c *Client) DownloadLabels(ctx context.Context, shipmentIDs []string) ([]byte, error) {
	payload := map[string][]string{"shipments": shipmentIDs}
	return c.doRaw(ctx, http.MethodPost, "/labels/download", payload, "application/pdf")
}

// CreateOrder syncs a host order to the platform's order overview.
func (c *Client) CreateOrder(ctx context.Context, draft OrderDraft) (*PlatformOrder, error) {
	var order PlatformOrder
	if err := c.do(ctx, http.MethodPost, "/orders", draft, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetTrackAndTrace retrieves the tracking record for a label.
func (c *Client) GetTrackAndTrace(ctx context.Context, labelID string) (*TrackAndTrace, error) {
	var tt TrackAndTrace
	if err := c.do(ctx, http.MethodGet, "/labels/"+labelID+"/track-and-trace", nil, &tt); err != nil {
		return nil, err
	}
	return &tt, nil
}
