package platform

import (
	"context"
	"net/http"
	"net/url"

	"amplify/internal/model"
)

const graphBase = "https://graph.facebook.com/v18.0"

// Facebook publishes to a page feed through the Graph API.
type Facebook struct{ api *apiClient }

func NewFacebook(o Options) *Facebook {
	api := newAPIClient(model.PlatformFacebook, graphBase, o)
	api.tokenInQuery = true
	return &Facebook{api: api}
}

func (f *Facebook) Name() string { return model.PlatformFacebook }

func (f *Facebook) Publish(ctx context.Context, c Content, creds Credentials) (Published, error) {
	c, err := Normalize(model.PlatformFacebook, c)
	if err != nil {
		return Published{}, err
	}
	page := url.PathEscape(creds.AccountID)
	r := request{method: http.MethodPost, path: "/" + page + "/feed", body: map[string]string{"message": c.Text}, token: creds.AccessToken}
	if c.MediaURL != "" {
		r.path = "/" + page + "/photos"
		r.body = map[string]string{"url": c.MediaURL, "caption": c.Text}
	}
	var raw struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if _, err := f.api.do(ctx, r, &raw); err != nil {
		return Published{}, err
	}
	id := raw.PostID
	if id == "" {
		id = raw.ID
	}
	if id == "" {
		return Published{}, &PlatformError{Platform: f.Name(), Reason: ReasonMalformed, Message: "response without post id"}
	}
	return Published{ExternalID: id, URL: "https://www.facebook.com/" + id}, nil
}

func (f *Facebook) GetMetrics(ctx context.Context, externalID string, creds Credentials) model.Metrics {
	m, err := f.FetchMetrics(ctx, externalID, creds)
	return bestEffort(f.Name(), externalID, m, err)
}

// FetchMetrics maps reactions, comments and shares from the post object and
// impressions from post insights. Missing insights leave impressions at 0.
func (f *Facebook) FetchMetrics(ctx context.Context, externalID string, creds Credentials) (model.Metrics, error) {
	var raw struct {
		Reactions struct {
			Summary struct {
				TotalCount int `json:"total_count"`
			} `json:"summary"`
		} `json:"reactions"`
		Comments struct {
			Summary struct {
				TotalCount int `json:"total_count"`
			} `json:"summary"`
		} `json:"comments"`
		Shares struct {
			Count int `json:"count"`
		} `json:"shares"`
	}
	_, err := f.api.do(ctx, request{
		method: http.MethodGet,
		path:   "/" + url.PathEscape(externalID),
		query:  url.Values{"fields": {"reactions.summary(true),comments.summary(true),shares"}},
		token:  creds.AccessToken,
	}, &raw)
	if err != nil {
		return model.Metrics{}, err
	}
	m := model.Metrics{
		Likes:    raw.Reactions.Summary.TotalCount,
		Comments: raw.Comments.Summary.TotalCount,
		Shares:   raw.Shares.Count,
	}
	ins, err := graphInsights(ctx, f.api, externalID, "post_impressions", creds)
	if err == nil {
		m.Impressions = ins["post_impressions"]
	}
	return m, nil
}

func (f *Facebook) Delete(ctx context.Context, externalID string, creds Credentials) error {
	var raw struct {
		Success bool `json:"success"`
	}
	if _, err := f.api.do(ctx, request{method: http.MethodDelete, path: "/" + url.PathEscape(externalID), token: creds.AccessToken}, &raw); err != nil {
		return err
	}
	if !raw.Success {
		return &PlatformError{Platform: f.Name(), Reason: ReasonMalformed, Message: "delete not acknowledged"}
	}
	return nil
}

// graphInsights reads the latest value of each metric from /{id}/insights.
func graphInsights(ctx context.Context, api *apiClient, id, metric string, creds Credentials) (map[string]int, error) {
	var raw struct {
		Data []struct {
			Name   string `json:"name"`
			Values []struct {
				Value int `json:"value"`
			} `json:"values"`
		} `json:"data"`
	}
	_, err := api.do(ctx, request{
		method: http.MethodGet,
		path:   "/" + url.PathEscape(id) + "/insights",
		query:  url.Values{"metric": {metric}},
		token:  creds.AccessToken,
	}, &raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw.Data))
	for _, d := range raw.Data {
		if n := len(d.Values); n > 0 {
			out[d.Name] = d.Values[n-1].Value
		}
	}
	return out, nil
}
