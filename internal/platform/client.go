package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Options configures the HTTP side of an adapter.
type Options struct {
	BaseURL string
	Timeout time.Duration
	RPS     float64
	Burst   int
	// HTTPClient overrides the default client (tests inject httptest clients).
	HTTPClient *http.Client
}

const maxErrorBody = 4 << 10

// apiClient is the shared JSON/HTTP plumbing of the platform adapters.
type apiClient struct {
	platform     string
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	tokenInQuery bool
}

func newAPIClient(platform, defaultBase string, o Options) *apiClient {
	base := o.BaseURL
	if base == "" {
		base = defaultBase
	}
	hc := o.HTTPClient
	if hc == nil {
		timeout := o.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &apiClient{
		platform:   platform,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: hc,
		limiter:    newLimiter(platform, o.RPS, o.Burst),
	}
}

// request is one API call. Path is relative to baseURL unless it is absolute.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	raw    io.Reader
	token  string
}

func (c *apiClient) endpoint(r request) string {
	u := r.path
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.baseURL + "/" + strings.TrimLeft(r.path, "/")
	}
	q := url.Values{}
	for k, v := range r.query {
		q[k] = v
	}
	if c.tokenInQuery && r.token != "" {
		q.Set("access_token", r.token)
	}
	if len(q) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + q.Encode()
	}
	return u
}

// do sends r and decodes a JSON response into out (if non-nil). HTTP errors
// and transport failures come back as *PlatformError.
func (c *apiClient) do(ctx context.Context, r request, out any) (http.Header, error) {
	var body io.Reader = r.raw
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, &PlatformError{Platform: c.platform, Reason: ReasonMalformed, Err: err}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r), body)
	if err != nil {
		return nil, &PlatformError{Platform: c.platform, Reason: ReasonMalformed, Err: err}
	}
	if r.token != "" && !c.tokenInQuery {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	} else if r.raw != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, networkError(c.platform, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(b))
		return resp.Header, &PlatformError{
			Platform: c.platform,
			Reason:   classifyStatus(resp.StatusCode, msg),
			Status:   resp.StatusCode,
			Message:  msg,
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return resp.Header, &PlatformError{Platform: c.platform, Reason: ReasonMalformed, Message: "decode response", Err: err}
	}
	return resp.Header, nil
}
