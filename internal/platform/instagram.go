package platform

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"amplify/internal/model"
)

// DefaultSettleDelay is the wait between creating a media container and
// publishing it.
const DefaultSettleDelay = 3 * time.Second

// Instagram publishes through the Instagram Graph API: create a media
// container, wait for it to settle, then publish it. Media is mandatory.
type Instagram struct {
	api    *apiClient
	settle time.Duration
}

func NewInstagram(o Options, settle time.Duration) *Instagram {
	api := newAPIClient(model.PlatformInstagram, graphBase, o)
	api.tokenInQuery = true
	if settle < 0 {
		settle = 0
	}
	return &Instagram{api: api, settle: settle}
}

func (i *Instagram) Name() string { return model.PlatformInstagram }

func (i *Instagram) Publish(ctx context.Context, c Content, creds Credentials) (Published, error) {
	c, err := Normalize(model.PlatformInstagram, c)
	if err != nil {
		return Published{}, err
	}
	account := url.PathEscape(creds.AccountID)
	var container struct {
		ID string `json:"id"`
	}
	_, err = i.api.do(ctx, request{
		method: http.MethodPost,
		path:   "/" + account + "/media",
		body:   map[string]string{"image_url": c.MediaURL, "caption": c.Text},
		token:  creds.AccessToken,
	}, &container)
	if err != nil {
		return Published{}, err
	}
	if container.ID == "" {
		return Published{}, &PlatformError{Platform: i.Name(), Reason: ReasonMalformed, Message: "response without container id"}
	}
	if err := wait(ctx, i.settle); err != nil {
		return Published{}, err
	}
	var pub struct {
		ID string `json:"id"`
	}
	_, err = i.api.do(ctx, request{
		method: http.MethodPost,
		path:   "/" + account + "/media_publish",
		body:   map[string]string{"creation_id": container.ID},
		token:  creds.AccessToken,
	}, &pub)
	if err != nil {
		return Published{}, err
	}
	if pub.ID == "" {
		return Published{}, &PlatformError{Platform: i.Name(), Reason: ReasonMalformed, Message: "response without media id"}
	}
	return Published{ExternalID: pub.ID, URL: i.permalink(ctx, pub.ID, creds)}, nil
}

func (i *Instagram) permalink(ctx context.Context, id string, creds Credentials) string {
	var raw struct {
		Permalink string `json:"permalink"`
	}
	_, err := i.api.do(ctx, request{
		method: http.MethodGet,
		path:   "/" + url.PathEscape(id),
		query:  url.Values{"fields": {"permalink"}},
		token:  creds.AccessToken,
	}, &raw)
	if err != nil || raw.Permalink == "" {
		return "https://www.instagram.com/"
	}
	return raw.Permalink
}

func (i *Instagram) GetMetrics(ctx context.Context, externalID string, creds Credentials) model.Metrics {
	m, err := i.FetchMetrics(ctx, externalID, creds)
	return bestEffort(i.Name(), externalID, m, err)
}

// FetchMetrics maps like_count and comments_count plus impressions (reach when
// impressions are absent) and shares from insights.
func (i *Instagram) FetchMetrics(ctx context.Context, externalID string, creds Credentials) (model.Metrics, error) {
	var raw struct {
		LikeCount     int `json:"like_count"`
		CommentsCount int `json:"comments_count"`
	}
	_, err := i.api.do(ctx, request{
		method: http.MethodGet,
		path:   "/" + url.PathEscape(externalID),
		query:  url.Values{"fields": {"like_count,comments_count"}},
		token:  creds.AccessToken,
	}, &raw)
	if err != nil {
		return model.Metrics{}, err
	}
	m := model.Metrics{Likes: raw.LikeCount, Comments: raw.CommentsCount}
	if ins, err := graphInsights(ctx, i.api, externalID, "impressions,reach,shares", creds); err == nil {
		m.Impressions = ins["impressions"]
		if m.Impressions == 0 {
			m.Impressions = ins["reach"]
		}
		m.Shares = ins["shares"]
	}
	return m, nil
}

// Delete is not offered by the Instagram Graph API.
func (i *Instagram) Delete(ctx context.Context, externalID string, creds Credentials) error {
	return &PlatformError{Platform: i.Name(), Reason: ReasonUnsupported, Message: "instagram media cannot be deleted through the API"}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
