package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"amplify/internal/model"
)

// recorder keeps the method+path of every request a test server receives.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(req *http.Request) {
	r.mu.Lock()
	r.calls = append(r.calls, req.Method+" "+req.URL.Path)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func opts(ts *httptest.Server) Options {
	return Options{BaseURL: ts.URL, HTTPClient: ts.Client(), RPS: 100, Burst: 100}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

var creds = Credentials{AccessToken: "tok", AccountID: "acct-1"}

func TestTwitterPublishWithMedia(t *testing.T) {
	rec := &recorder{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token on %s", r.URL.Path)
		}
		switch r.URL.Path {
		case "/media/upload":
			writeJSON(w, map[string]any{"data": map[string]string{"id": "m-1"}})
		case "/tweets":
			var body struct {
				Text  string `json:"text"`
				Media struct {
					MediaIDs []string `json:"media_ids"`
				} `json:"media"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Text != "hello" || len(body.Media.MediaIDs) != 1 || body.Media.MediaIDs[0] != "m-1" {
				t.Errorf("unexpected tweet body: %+v", body)
			}
			writeJSON(w, map[string]any{"data": map[string]string{"id": "t-9", "text": "hello"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	tw := NewTwitter(opts(ts))
	got, err := tw.Publish(context.Background(), Content{Text: "hello", MediaURL: "https://cdn/a.png"}, creds)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got.ExternalID != "t-9" || !strings.HasSuffix(got.URL, "/t-9") {
		t.Fatalf("unexpected result: %+v", got)
	}
	if calls := rec.list(); len(calls) != 2 || calls[0] != "POST /media/upload" {
		t.Fatalf("unexpected call order: %v", calls)
	}
}

func TestTwitterMetricsMapping(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tweet.fields") != "public_metrics" {
			t.Errorf("expected public_metrics field")
		}
		writeJSON(w, map[string]any{"data": map[string]any{"public_metrics": map[string]int{
			"like_count": 10, "reply_count": 2, "retweet_count": 3, "quote_count": 1, "impression_count": 500,
		}}})
	}))
	defer ts.Close()
	m := NewTwitter(opts(ts)).GetMetrics(context.Background(), "t-9", creds)
	want := model.Metrics{Likes: 10, Comments: 2, Shares: 4, Impressions: 500}
	if m != want {
		t.Fatalf("got %+v want %+v", m, want)
	}
}

func TestMetricsFailureYieldsZero(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()
	for _, a := range []Adapter{NewTwitter(opts(ts)), NewLinkedIn(opts(ts)), NewFacebook(opts(ts)), NewInstagram(opts(ts), 0)} {
		if m := a.GetMetrics(context.Background(), "x", creds); m != (model.Metrics{}) {
			t.Fatalf("%s: expected zero metrics, got %+v", a.Name(), m)
		}
	}
}

func TestPublishErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		body   string
		reason string
	}{
		{http.StatusUnauthorized, `{"error":"expired"}`, ReasonAuthExpired},
		{http.StatusTooManyRequests, ``, ReasonRateLimited},
		{http.StatusBadRequest, `{"detail":"content policy violation"}`, ReasonPolicyViolation},
		{http.StatusBadRequest, `{"detail":"bad field"}`, ReasonMalformed},
		{http.StatusBadGateway, ``, ReasonServer},
	}
	for _, c := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
			_, _ = io.WriteString(w, c.body)
		}))
		_, err := NewFacebook(opts(ts)).Publish(context.Background(), Content{Text: "hi"}, creds)
		ts.Close()
		pe, ok := AsPlatformError(err)
		if !ok || pe.Reason != c.reason || pe.Status != c.status || pe.Platform != model.PlatformFacebook {
			t.Fatalf("status %d: got %v", c.status, err)
		}
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	o := opts(ts)
	ts.Close()
	_, err := NewTwitter(o).Publish(context.Background(), Content{Text: "hi"}, creds)
	pe, ok := AsPlatformError(err)
	if !ok || pe.Reason != ReasonNetwork || !errors.Is(err, ErrTransientNetwork) {
		t.Fatalf("expected transient network error, got %v", err)
	}
}

func TestLinkedInTwoStepMediaPublish(t *testing.T) {
	rec := &recorder{}
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		switch {
		case r.URL.Path == "/assets" && r.URL.Query().Get("action") == "registerUpload":
			writeJSON(w, map[string]any{"value": map[string]any{
				"asset": "urn:li:digitalmediaAsset:A1",
				"uploadMechanism": map[string]any{
					"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest": map[string]string{"uploadUrl": ts.URL + "/upload/A1"},
				},
			}})
		case r.URL.Path == "/img.png":
			_, _ = w.Write([]byte("PNGDATA"))
		case r.URL.Path == "/upload/A1":
			b, _ := io.ReadAll(r.Body)
			if string(b) != "PNGDATA" {
				t.Errorf("uploaded %q", b)
			}
			w.WriteHeader(http.StatusCreated)
		case r.URL.Path == "/ugcPosts":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["author"] != "acct-1" {
				t.Errorf("author: %v", body["author"])
			}
			w.Header().Set("X-RestLi-Id", "urn:li:share:77")
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	got, err := NewLinkedIn(opts(ts)).Publish(context.Background(), Content{Text: "pro update", MediaURL: ts.URL + "/img.png"}, creds)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got.ExternalID != "urn:li:share:77" {
		t.Fatalf("unexpected id: %+v", got)
	}
	want := []string{"POST /assets", "GET /img.png", "PUT /upload/A1", "POST /ugcPosts"}
	calls := rec.list()
	if len(calls) != len(want) {
		t.Fatalf("calls: %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d: got %s want %s", i, calls[i], want[i])
		}
	}
}

func TestFacebookMetricsUseInsightsAndQueryToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "tok" {
			t.Errorf("graph calls must carry access_token")
		}
		if strings.HasSuffix(r.URL.Path, "/insights") {
			writeJSON(w, map[string]any{"data": []map[string]any{
				{"name": "post_impressions", "values": []map[string]int{{"value": 900}}},
			}})
			return
		}
		writeJSON(w, map[string]any{
			"reactions": map[string]any{"summary": map[string]int{"total_count": 40}},
			"comments":  map[string]any{"summary": map[string]int{"total_count": 5}},
			"shares":    map[string]int{"count": 7},
		})
	}))
	defer ts.Close()
	m := NewFacebook(opts(ts)).GetMetrics(context.Background(), "p_1", creds)
	want := model.Metrics{Likes: 40, Comments: 5, Shares: 7, Impressions: 900}
	if m != want {
		t.Fatalf("got %+v want %+v", m, want)
	}
}

func TestInstagramContainerThenPublish(t *testing.T) {
	rec := &recorder{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		switch r.URL.Path {
		case "/acct-1/media":
			writeJSON(w, map[string]string{"id": "c-1"})
		case "/acct-1/media_publish":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["creation_id"] != "c-1" {
				t.Errorf("creation_id: %v", body)
			}
			writeJSON(w, map[string]string{"id": "ig-5"})
		case "/ig-5":
			writeJSON(w, map[string]string{"permalink": "https://www.instagram.com/p/abc/"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()
	got, err := NewInstagram(opts(ts), 0).Publish(context.Background(), Content{Text: "pic", MediaURL: "https://cdn/p.jpg"}, creds)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got.ExternalID != "ig-5" || got.URL != "https://www.instagram.com/p/abc/" {
		t.Fatalf("unexpected result %+v", got)
	}
	if calls := rec.list(); len(calls) != 3 || calls[0] != "POST /acct-1/media" || calls[1] != "POST /acct-1/media_publish" {
		t.Fatalf("calls: %v", calls)
	}
}

func TestInstagramWithoutMediaMakesNoCalls(t *testing.T) {
	rec := &recorder{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { rec.add(r) }))
	defer ts.Close()
	_, err := NewInstagram(opts(ts), 0).Publish(context.Background(), Content{Text: "no pic"}, creds)
	if !model.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(rec.list()) != 0 {
		t.Fatalf("no request expected, got %v", rec.list())
	}
}

func TestStaticCredentialsAndRegistry(t *testing.T) {
	store := StaticCredentials{model.PlatformTwitter: {AccessToken: "a"}}
	if _, err := store.Credentials(context.Background(), "owner", model.PlatformTwitter); err != nil {
		t.Fatalf("credentials: %v", err)
	}
	_, err := store.Credentials(context.Background(), "owner", model.PlatformLinkedIn)
	if pe, ok := AsPlatformError(err); !ok || pe.Reason != ReasonAuthExpired {
		t.Fatalf("expected auth error, got %v", err)
	}
	reg := NewRegistry(NewTwitter(Options{}), NewFacebook(Options{}))
	if !reg.Has(model.PlatformTwitter) || reg.Has(model.PlatformInstagram) {
		t.Fatalf("registry membership wrong: %v", reg.Names())
	}
	if _, err := reg.Get(model.PlatformInstagram); err == nil {
		t.Fatalf("expected missing adapter error")
	}
}

func TestFetchMetricsReportsErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()
	var f MetricsFetcher = NewLinkedIn(opts(ts))
	_, err := f.FetchMetrics(context.Background(), "urn:li:share:1", creds)
	if pe, ok := AsPlatformError(err); !ok || pe.Reason != ReasonRateLimited {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}

func TestDeleteRequests(t *testing.T) {
	rec := &recorder{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		switch r.URL.Path {
		case "/tweets/t-1":
			writeJSON(w, map[string]any{"data": map[string]bool{"deleted": true}})
		case "/ugcPosts/urn:li:share:7":
			w.WriteHeader(http.StatusNoContent)
		case "/p_1":
			if r.URL.Query().Get("access_token") != "tok" {
				t.Errorf("graph delete must carry access_token")
			}
			writeJSON(w, map[string]bool{"success": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	ctx := context.Background()
	if err := NewTwitter(opts(ts)).Delete(ctx, "t-1", creds); err != nil {
		t.Fatalf("twitter: %v", err)
	}
	if err := NewLinkedIn(opts(ts)).Delete(ctx, "urn:li:share:7", creds); err != nil {
		t.Fatalf("linkedin: %v", err)
	}
	if err := NewFacebook(opts(ts)).Delete(ctx, "p_1", creds); err != nil {
		t.Fatalf("facebook: %v", err)
	}
	want := []string{"DELETE /tweets/t-1", "DELETE /ugcPosts/urn:li:share:7", "DELETE /p_1"}
	calls := rec.list()
	if len(calls) != len(want) {
		t.Fatalf("calls: %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d: got %s want %s", i, calls[i], want[i])
		}
	}
}

func TestDeleteNotAcknowledged(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/tweets/") {
			writeJSON(w, map[string]any{"data": map[string]bool{"deleted": false}})
			return
		}
		writeJSON(w, map[string]bool{"success": false})
	}))
	defer ts.Close()

	ctx := context.Background()
	for _, a := range []Adapter{NewTwitter(opts(ts)), NewFacebook(opts(ts))} {
		err := a.Delete(ctx, "x", creds)
		pe, ok := AsPlatformError(err)
		if !ok || pe.Reason != ReasonMalformed || pe.Platform != a.Name() {
			t.Fatalf("%s: expected malformed error, got %v", a.Name(), err)
		}
	}
}

func TestDeleteErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		reason string
	}{
		{http.StatusUnauthorized, ReasonAuthExpired},
		{http.StatusNotFound, ReasonMalformed},
		{http.StatusServiceUnavailable, ReasonServer},
	}
	for _, c := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
		}))
		for _, a := range []Adapter{NewTwitter(opts(ts)), NewLinkedIn(opts(ts)), NewFacebook(opts(ts))} {
			err := a.Delete(context.Background(), "x", creds)
			pe, ok := AsPlatformError(err)
			if !ok || pe.Reason != c.reason || pe.Status != c.status || pe.Platform != a.Name() {
				t.Fatalf("%s status %d: got %v", a.Name(), c.status, err)
			}
		}
		ts.Close()
	}
}

func TestInstagramDeleteUnsupported(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer ts.Close()
	err := NewInstagram(opts(ts), 0).Delete(context.Background(), "ig-1", creds)
	pe, ok := AsPlatformError(err)
	if !ok || pe.Reason != ReasonUnsupported || pe.Platform != model.PlatformInstagram {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("instagram delete must not call the API, calls=%d", calls)
	}
}
