package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"amplify/internal/ads"
	"amplify/internal/engagement"
	"amplify/internal/lock"
	"amplify/internal/model"
	"amplify/internal/platform"
	"amplify/internal/resilience"
	"amplify/internal/scheduler"
	"amplify/internal/store/sqlitestore"
)

type stubAdapter struct{ name string }

func (s stubAdapter) Name() string { return s.name }

func (s stubAdapter) Publish(ctx context.Context, c platform.Content, creds platform.Credentials) (platform.Published, error) {
	return platform.Published{ExternalID: s.name + "-1", URL: "https://example.test/" + s.name}, nil
}

func (s stubAdapter) GetMetrics(ctx context.Context, id string, creds platform.Credentials) model.Metrics {
	return model.Metrics{Likes: 4, Comments: 2, Shares: 1, Impressions: 100}
}

func (s stubAdapter) Delete(ctx context.Context, id string, creds platform.Credentials) error {
	return nil
}

type stubCampaigner struct{}

func (stubCampaigner) CreateCampaign(ctx context.Context, req ads.CampaignRequest) (ads.CampaignResult, error) {
	return ads.CampaignResult{ID: "cmp-9", Status: "active"}, nil
}

type testServer struct {
	router *gin.Engine
	sched  *scheduler.Scheduler
	db     *sqlitestore.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	var list []platform.Adapter
	creds := platform.StaticCredentials{}
	for _, p := range model.AllPlatforms {
		list = append(list, stubAdapter{name: p})
		creds[p] = platform.Credentials{AccessToken: "tok", AccountID: "acct"}
	}
	reg := platform.NewRegistry(list...)
	breakers := resilience.NewBreakers(resilience.BreakerConfig{})
	locks := lock.NewKeyed()
	sched := scheduler.New(db, reg, creds, breakers, locks, scheduler.Options{})
	syncer := engagement.New(db, reg, creds, locks, engagement.Options{RetryDelay: time.Millisecond})
	engine := ads.NewEngine(db, ads.StaticBrands{}, stubCampaigner{}, breakers, locks, ads.Options{RetryDelay: time.Millisecond})
	h := &Handler{Posts: db, Publisher: sched, Syncer: syncer, Ads: engine, Breakers: breakers}
	return &testServer{router: NewRouter(h), sched: sched, db: db}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) savePost(t *testing.T, id string) {
	t.Helper()
	rec := s.do(t, http.MethodPut, "/v1/posts/"+id, map[string]any{"owner_id": "u1", "text": "Launch day"})
	if rec.Code != http.StatusOK {
		t.Fatalf("save post: %d %s", rec.Code, rec.Body.String())
	}
}

func TestScheduleValidationAndConflicts(t *testing.T) {
	s := newTestServer(t)
	s.savePost(t, "p1")

	past := time.Now().Add(-time.Hour).UTC()
	rec := s.do(t, http.MethodPost, "/v1/publish", map[string]any{"post_id": "p1", "owner_id": "u1", "platforms": []string{"twitter"}, "scheduled_time": past})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "scheduled_time") {
		t.Fatalf("past time: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/v1/publish", map[string]any{"post_id": "p1", "owner_id": "u1", "platforms": []string{"myspace"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown platform: %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/v1/publish", map[string]any{"post_id": "missing", "owner_id": "u1", "platforms": []string{"twitter"}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown post: %d", rec.Code)
	}

	future := time.Now().Add(time.Hour).UTC()
	rec = s.do(t, http.MethodPost, "/v1/publish", map[string]any{"post_id": "p1", "owner_id": "u1", "platforms": []string{"twitter"}, "scheduled_time": future})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("schedule: %d %s", rec.Code, rec.Body.String())
	}
	var sc scheduler.Scheduled
	if err := json.Unmarshal(rec.Body.Bytes(), &sc); err != nil || sc.JobID == "" || !sc.ScheduledFor.Equal(future) {
		t.Fatalf("scheduled: %+v %v", sc, err)
	}
	rec = s.do(t, http.MethodPost, "/v1/publish/now", map[string]any{"post_id": "p1", "owner_id": "u1", "platforms": []string{"twitter"}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/v1/queue/stats", nil)
	var st sqlitestore.QueueStats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || st.Delayed != 1 {
		t.Fatalf("stats: %s", rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/v1/jobs/"+sc.JobID, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"state":"delayed"`) {
		t.Fatalf("job status: %d %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownJobIsNull(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/v1/jobs/nope", nil)
	if rec.Code != http.StatusNotFound || strings.TrimSpace(rec.Body.String()) != "null" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestPublishSyncAndAds(t *testing.T) {
	s := newTestServer(t)
	s.savePost(t, "p1")
	rec := s.do(t, http.MethodPost, "/v1/publish/now", map[string]any{"post_id": "p1", "owner_id": "u1", "platforms": []string{"twitter", "linkedin"}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("publish now: %d %s", rec.Code, rec.Body.String())
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if _, err := s.sched.ProcessDue(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec = s.do(t, http.MethodGet, "/v1/jobs/"+out.JobID, nil)
	if !strings.Contains(rec.Body.String(), `"state":"completed"`) {
		t.Fatalf("job not completed: %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/v1/posts/p1/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync: %d %s", rec.Code, rec.Body.String())
	}
	var res engagement.SyncResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil || res.Aggregated.Likes != 8 || res.Aggregated.Impressions != 200 {
		t.Fatalf("sync result: %+v %v", res, err)
	}

	rec = s.do(t, http.MethodGet, "/v1/posts/p1/ads/analysis", nil)
	var d ads.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil || d.ShouldEscalate || d.Reason != "not enough signal yet" {
		t.Fatalf("analysis: %s", rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/v1/posts/p1/ads/campaign", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("fresh post must not escalate: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/v1/posts/p1/roi", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"has_ads":false`) {
		t.Fatalf("roi: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/v1/posts/ghost/ads/analysis", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown post analysis: %d", rec.Code)
	}
}

func TestCampaignFromExplicitDecision(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	s.savePost(t, "p1")
	if err := s.db.MarkPublished(ctx, "p1", time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatal(err)
	}
	d := ads.Decision{ShouldEscalate: true, Reason: "strong organic performance", Platform: ads.PlatformGoogle, Budget: 120}
	rec := s.do(t, http.MethodPost, "/v1/posts/p1/ads/campaign", map[string]any{"decision": d})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("post without engagement must not escalate: %d %s", rec.Code, rec.Body.String())
	}
	m := model.Metrics{Comments: 45, Shares: 35, Impressions: 2000}
	if err := s.db.UpdatePostScores(ctx, "p1", m, 0.155, 0, 0.65); err != nil {
		t.Fatal(err)
	}
	rec = s.do(t, http.MethodPost, "/v1/posts/p1/ads/campaign", map[string]any{"decision": d})
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"cmp-9"`) || !strings.Contains(rec.Body.String(), `"total_budget":120`) {
		t.Fatalf("campaign: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/v1/posts/p1/ads/campaign", map[string]any{"decision": d})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second campaign: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthAndBreakers(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	rec := s.do(t, http.MethodGet, "/v1/breakers", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"breakers"`) {
		t.Fatalf("breakers: %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.Invalid("x", "bad"), http.StatusBadRequest},
		{sqlitestore.ErrDuplicateJob, http.StatusConflict},
		{ads.ErrAlreadyEscalated, http.StatusConflict},
		{sqlitestore.ErrNotFound, http.StatusNotFound},
		{&resilience.CircuitOpenError{Target: "platform:twitter"}, http.StatusServiceUnavailable},
		{&platform.PlatformError{Platform: "twitter"}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: got %d want %d", tc.err, got, tc.want)
		}
	}
}
