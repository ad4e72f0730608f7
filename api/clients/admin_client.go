package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/config-service/httpserver"
)

// AdminClient talks to the config server's unseal API. Every mutating request
// is signed with the admin's key.
type AdminClient struct {
	baseURL    string
	adminID    string
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client
}

// UnsealStatus is the response of GET /admin/status.
type UnsealStatus struct {
	State     string `json:"state"`
	Threshold int    `json:"threshold,omitempty"`
	Submitted int    `json:"submitted,omitempty"`
}

// NewAdminClient creates a client for the admin API at baseURL, for example
// "http://localhost:8888/admin". The timeout defaults to 30 seconds.
func NewAdminClient(baseURL, adminID string, privateKey *ecdsa.PrivateKey, timeout ...time.Duration) *AdminClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &AdminClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		adminID:    adminID,
		privateKey: privateKey,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// GetStatus queries the unseal state.
func (c *AdminClient) GetStatus(ctx context.Context) (UnsealStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return UnsealStatus{}, err
	}

	var status UnsealStatus
	if err := c.do(req, &status); err != nil {
		return UnsealStatus{}, fmt.Errorf("status request failed: %w", err)
	}
	return status, nil
}

// StartUnseal starts collecting shares; threshold shares will be needed.
func (c *AdminClient) StartUnseal(ctx context.Context, threshold int) error {
	req, err := c.signedRequest(ctx, "/unseal", map[string]int{"threshold": threshold})
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("unseal request failed: %w", err)
	}
	return nil
}

// SubmitShare submits this admin's hex-encoded key share. It reports whether
// the key was installed by this share.
func (c *AdminClient) SubmitShare(ctx context.Context, share string) (bool, error) {
	req, err := c.signedRequest(ctx, "/share", map[string]string{"share": strings.TrimSpace(share)})
	if err != nil {
		return false, err
	}

	var result struct {
		Message   string `json:"message"`
		Submitted int    `json:"submitted"`
	}
	if err := c.do(req, &result); err != nil {
		return false, fmt.Errorf("submit share failed: %w", err)
	}
	return result.Submitted == 0, nil
}

// WaitForUnseal polls the status until the key is installed or ctx is done.
func (c *AdminClient) WaitForUnseal(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.GetStatus(ctx)
		if err != nil {
			return err
		}
		if status.State == httpserver.StateUnsealed.String() {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for unseal: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// signedRequest builds a POST to path with body as JSON, signed over the full
// URL path and body.
func (c *AdminClient) signedRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	reqURL := c.baseURL + path
	parsedURL, err := url.Parse(reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	signature, err := httpserver.SignAdminRequest(c.privateKey, parsedURL.Path, reqJSON)
	if err != nil {
		return nil, err
	}
	req.Header.Set(httpserver.AdminIDHeader, c.adminID)
	req.Header.Set(httpserver.AdminSignatureHeader, signature)
	return req, nil
}

func (c *AdminClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
