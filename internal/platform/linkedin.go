package platform

import (
	"context"
	"net/http"
	"net/url"

	"amplify/internal/model"
)

// LinkedIn publishes UGC posts. Media goes through register-upload, a binary
// upload of the asset, then the post referencing the asset URN.
type LinkedIn struct{ api *apiClient }

func NewLinkedIn(o Options) *LinkedIn {
	return &LinkedIn{api: newAPIClient(model.PlatformLinkedIn, "https://api.linkedin.com/v2", o)}
}

func (l *LinkedIn) Name() string { return model.PlatformLinkedIn }

func (l *LinkedIn) Publish(ctx context.Context, c Content, creds Credentials) (Published, error) {
	c, err := Normalize(model.PlatformLinkedIn, c)
	if err != nil {
		return Published{}, err
	}
	share := map[string]any{
		"shareCommentary":    map[string]string{"text": c.Text},
		"shareMediaCategory": "NONE",
	}
	if c.MediaURL != "" {
		asset, err := l.uploadImage(ctx, c.MediaURL, creds)
		if err != nil {
			return Published{}, err
		}
		share["shareMediaCategory"] = "IMAGE"
		share["media"] = []map[string]string{{"status": "READY", "media": asset}}
	}
	payload := map[string]any{
		"author":          creds.AccountID,
		"lifecycleState":  "PUBLISHED",
		"specificContent": map[string]any{"com.linkedin.ugc.ShareContent": share},
		"visibility":      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}
	var raw struct {
		ID string `json:"id"`
	}
	hdr, err := l.api.do(ctx, request{method: http.MethodPost, path: "/ugcPosts", body: payload, token: creds.AccessToken}, &raw)
	if err != nil {
		return Published{}, err
	}
	id := raw.ID
	if id == "" && hdr != nil {
		id = hdr.Get("X-RestLi-Id")
	}
	if id == "" {
		return Published{}, &PlatformError{Platform: l.Name(), Reason: ReasonMalformed, Message: "response without post id"}
	}
	return Published{ExternalID: id, URL: "https://www.linkedin.com/feed/update/" + id}, nil
}

func (l *LinkedIn) uploadImage(ctx context.Context, mediaURL string, creds Credentials) (string, error) {
	var reg struct {
		Value struct {
			Asset           string `json:"asset"`
			UploadMechanism struct {
				Upload struct {
					UploadURL string `json:"uploadUrl"`
				} `json:"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"`
			} `json:"uploadMechanism"`
		} `json:"value"`
	}
	_, err := l.api.do(ctx, request{
		method: http.MethodPost,
		path:   "/assets",
		query:  url.Values{"action": {"registerUpload"}},
		body: map[string]any{"registerUploadRequest": map[string]any{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   creds.AccountID,
			"serviceRelationships": []map[string]string{{
				"relationshipType": "OWNER",
				"identifier":       "urn:li:userGeneratedContent",
			}},
		}},
		token: creds.AccessToken,
	}, &reg)
	if err != nil {
		return "", err
	}
	if reg.Value.Asset == "" || reg.Value.UploadMechanism.Upload.UploadURL == "" {
		return "", &PlatformError{Platform: l.Name(), Reason: ReasonMalformed, Message: "register upload returned no upload url"}
	}
	src, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", &PlatformError{Platform: l.Name(), Reason: ReasonMalformed, Err: err}
	}
	resp, err := l.api.httpClient.Do(src)
	if err != nil {
		return "", networkError(l.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", &PlatformError{Platform: l.Name(), Reason: ReasonMalformed, Status: resp.StatusCode, Message: "media fetch failed"}
	}
	if _, err := l.api.do(ctx, request{
		method: http.MethodPut,
		path:   reg.Value.UploadMechanism.Upload.UploadURL,
		raw:    resp.Body,
		token:  creds.AccessToken,
	}, nil); err != nil {
		return "", err
	}
	return reg.Value.Asset, nil
}

func (l *LinkedIn) GetMetrics(ctx context.Context, externalID string, creds Credentials) model.Metrics {
	m, err := l.FetchMetrics(ctx, externalID, creds)
	return bestEffort(l.Name(), externalID, m, err)
}

// FetchMetrics maps totalShareStatistics of the author's share statistics.
func (l *LinkedIn) FetchMetrics(ctx context.Context, externalID string, creds Credentials) (model.Metrics, error) {
	var raw struct {
		Elements []struct {
			TotalShareStatistics struct {
				LikeCount       int `json:"likeCount"`
				CommentCount    int `json:"commentCount"`
				ShareCount      int `json:"shareCount"`
				ImpressionCount int `json:"impressionCount"`
			} `json:"totalShareStatistics"`
		} `json:"elements"`
	}
	_, err := l.api.do(ctx, request{
		method: http.MethodGet,
		path:   "/organizationalEntityShareStatistics",
		query: url.Values{
			"q":                    {"organizationalEntity"},
			"organizationalEntity": {creds.AccountID},
			"shares":               {externalID},
		},
		token: creds.AccessToken,
	}, &raw)
	if err != nil {
		return model.Metrics{}, err
	}
	if len(raw.Elements) == 0 {
		return model.Metrics{}, nil
	}
	s := raw.Elements[0].TotalShareStatistics
	return model.Metrics{Likes: s.LikeCount, Comments: s.CommentCount, Shares: s.ShareCount, Impressions: s.ImpressionCount}, nil
}

func (l *LinkedIn) Delete(ctx context.Context, externalID string, creds Credentials) error {
	_, err := l.api.do(ctx, request{method: http.MethodDelete, path: "/ugcPosts/" + url.PathEscape(externalID), token: creds.AccessToken}, nil)
	return err
}
