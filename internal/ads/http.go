package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"amplify/internal/resilience"
)

// HTTPCampaigner posts campaign requests to an ad gateway that fronts the
// concrete ad network APIs.
type HTTPCampaigner struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPCampaigner(baseURL, token string, client *http.Client) *HTTPCampaigner {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPCampaigner{baseURL: strings.TrimRight(baseURL, "/"), token: token, httpClient: client}
}

// CreateCampaign sends POST {base}/campaigns. Client errors are returned as
// permanent so they are not retried.
func (h *HTTPCampaigner) CreateCampaign(ctx context.Context, req CampaignRequest) (CampaignResult, error) {
	if h.baseURL == "" {
		return CampaignResult{}, resilience.Permanent(fmt.Errorf("ad gateway url is not configured"))
	}
	b, err := json.Marshal(req)
	if err != nil {
		return CampaignResult{}, err
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/campaigns", bytes.NewReader(b))
	if err != nil {
		return CampaignResult{}, err
	}
	r.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		r.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.httpClient.Do(r)
	if err != nil {
		return CampaignResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("ad gateway %s: status %d: %s", req.Platform, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return CampaignResult{}, resilience.Permanent(err)
		}
		return CampaignResult{}, err
	}
	var out CampaignResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CampaignResult{}, fmt.Errorf("decode campaign response: %w", err)
	}
	if out.ID == "" {
		return CampaignResult{}, fmt.Errorf("ad gateway returned no campaign id")
	}
	if out.Status == "" {
		out.Status = "pending"
	}
	return out, nil
}
