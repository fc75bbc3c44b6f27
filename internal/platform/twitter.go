package platform

import (
	"context"
	"net/http"
	"net/url"

	"amplify/internal/model"
)

// Twitter publishes through the X API v2.
type Twitter struct{ api *apiClient }

func NewTwitter(o Options) *Twitter {
	return &Twitter{api: newAPIClient(model.PlatformTwitter, "https://api.twitter.com/2", o)}
}

func (t *Twitter) Name() string { return model.PlatformTwitter }

func (t *Twitter) Publish(ctx context.Context, c Content, creds Credentials) (Published, error) {
	c, err := Normalize(model.PlatformTwitter, c)
	if err != nil {
		return Published{}, err
	}
	payload := map[string]any{"text": c.Text}
	if c.MediaURL != "" {
		var up struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		_, err := t.api.do(ctx, request{
			method: http.MethodPost,
			path:   "/media/upload",
			body:   map[string]string{"media_url": c.MediaURL, "media_category": "tweet_image"},
			token:  creds.AccessToken,
		}, &up)
		if err != nil {
			return Published{}, err
		}
		payload["media"] = map[string]any{"media_ids": []string{up.Data.ID}}
	}
	var raw struct {
		Data struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}
	if _, err := t.api.do(ctx, request{method: http.MethodPost, path: "/tweets", body: payload, token: creds.AccessToken}, &raw); err != nil {
		return Published{}, err
	}
	if raw.Data.ID == "" {
		return Published{}, &PlatformError{Platform: t.Name(), Reason: ReasonMalformed, Message: "response without tweet id"}
	}
	return Published{
		ExternalID: raw.Data.ID,
		URL:        "https://twitter.com/i/web/status/" + raw.Data.ID,
	}, nil
}

func (t *Twitter) GetMetrics(ctx context.Context, externalID string, creds Credentials) model.Metrics {
	m, err := t.FetchMetrics(ctx, externalID, creds)
	return bestEffort(t.Name(), externalID, m, err)
}

// FetchMetrics maps public_metrics; shares are retweets plus quotes.
func (t *Twitter) FetchMetrics(ctx context.Context, externalID string, creds Credentials) (model.Metrics, error) {
	var raw struct {
		Data struct {
			PublicMetrics struct {
				LikeCount       int `json:"like_count"`
				ReplyCount      int `json:"reply_count"`
				RetweetCount    int `json:"retweet_count"`
				QuoteCount      int `json:"quote_count"`
				ImpressionCount int `json:"impression_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	_, err := t.api.do(ctx, request{
		method: http.MethodGet,
		path:   "/tweets/" + url.PathEscape(externalID),
		query:  url.Values{"tweet.fields": {"public_metrics"}},
		token:  creds.AccessToken,
	}, &raw)
	if err != nil {
		return model.Metrics{}, err
	}
	pm := raw.Data.PublicMetrics
	return model.Metrics{
		Likes:       pm.LikeCount,
		Comments:    pm.ReplyCount,
		Shares:      pm.RetweetCount + pm.QuoteCount,
		Impressions: pm.ImpressionCount,
	}, nil
}

func (t *Twitter) Delete(ctx context.Context, externalID string, creds Credentials) error {
	var raw struct {
		Data struct {
			Deleted bool `json:"deleted"`
		} `json:"data"`
	}
	if _, err := t.api.do(ctx, request{method: http.MethodDelete, path: "/tweets/" + url.PathEscape(externalID), token: creds.AccessToken}, &raw); err != nil {
		return err
	}
	if !raw.Data.Deleted {
		return &PlatformError{Platform: t.Name(), Reason: ReasonMalformed, Message: "tweet not deleted"}
	}
	return nil
}
