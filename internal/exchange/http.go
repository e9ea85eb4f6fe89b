package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPAdapter implements Adapter against a remote swap endpoint.
//
// Request:  POST {BaseURL}/api/v1/swap  {"amount_in": 995000}
// Response: 200 {"amount_out": 9}
type HTTPAdapter struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPAdapter creates a new adapter with optional proxy support.
func NewHTTPAdapter(baseURL, apiKey, proxyURL string, timeout time.Duration) *HTTPAdapter {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

func (a *HTTPAdapter) Name() string { return "http" }

type swapRequest struct {
	AmountIn uint64 `json:"amount_in"`
}

type swapResponse struct {
	AmountOut uint64 `json:"amount_out"`
	Error     string `json:"error,omitempty"`
}

func (a *HTTPAdapter) Swap(ctx context.Context, sourceAmount uint64) (uint64, error) {
	body, err := json.Marshal(swapRequest{AmountIn: sourceAmount})
	if err != nil {
		return 0, fmt.Errorf("marshal swap request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/api/v1/swap", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("swap request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("swap: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	var out swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode swap response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("swap rejected: %s", out.Error)
	}
	return out.AmountOut, nil
}
