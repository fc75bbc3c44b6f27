// Package engagement refreshes metrics of published posts and recomputes
// their scores.
package engagement

import (
	"context"
	"fmt"
	"time"

	"amplify/internal/analytics"
	"amplify/internal/lock"
	"amplify/internal/logging"
	"amplify/internal/metrics"
	"amplify/internal/model"
	"amplify/internal/platform"
	"amplify/internal/resilience"
)

const lastRunCursor = "sync:last_run"

// Defaults used when Options leaves a field zero.
const (
	DefaultLookback   = 30 * 24 * time.Hour
	DefaultInterval   = 4 * time.Hour
	DefaultMaxRetries = 2
	DefaultRetryDelay = 500 * time.Millisecond
)

// Store is the persistence the syncer needs. *sqlitestore.DB implements it.
type Store interface {
	GetPost(ctx context.Context, id string) (model.Post, error)
	PublishedSince(ctx context.Context, since time.Time) ([]string, error)
	UpdatePlatformMetrics(ctx context.Context, postID, platform string, m model.Metrics, syncedAt time.Time) error
	UpdatePostScores(ctx context.Context, postID string, m model.Metrics, reward, viralityWeighted, viralityNormalized float64) error
	SaveCursor(ctx context.Context, key, value string) error
}

// Escalator is handed every synced post when automatic escalation is on.
type Escalator interface {
	MaybeEscalate(ctx context.Context, postID string) (bool, error)
}

type Options struct {
	Lookback   time.Duration
	Interval   time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return o
}

// PlatformMetrics is the outcome of refreshing one platform entry.
type PlatformMetrics struct {
	Platform string        `json:"platform"`
	Metrics  model.Metrics `json:"metrics"`
	Synced   bool          `json:"synced"`
	Error    string        `json:"error,omitempty"`
}

// SyncResult is what SyncPost stored for a post.
type SyncResult struct {
	PostID             string                          `json:"post_id"`
	Platforms          []PlatformMetrics               `json:"platform_metrics"`
	Aggregated         model.Metrics                   `json:"aggregated"`
	Reward             model.RewardResult              `json:"reward"`
	ViralityWeighted   float64                         `json:"virality_weighted"`
	ViralityNormalized float64                         `json:"virality_normalized"`
	Breakdown          []analytics.PlatformPerformance `json:"breakdown"`
}

// Summary reports one batch run.
type Summary struct {
	Posts     int `json:"posts"`
	Failed    int `json:"failed"`
	Escalated int `json:"escalated"`
}

// Syncer pulls engagement metrics through the platform adapters.
type Syncer struct {
	store     Store
	adapters  *platform.Registry
	creds     platform.CredentialStore
	locks     *lock.Keyed
	opts      Options
	escalator Escalator
	now       func() time.Time
}

func New(store Store, adapters *platform.Registry, creds platform.CredentialStore, locks *lock.Keyed, opts Options) *Syncer {
	if locks == nil {
		locks = lock.NewKeyed()
	}
	return &Syncer{
		store:    store,
		adapters: adapters,
		creds:    creds,
		locks:    locks,
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetEscalator enables automatic ad escalation after each synced post.
func (s *Syncer) SetEscalator(e Escalator) { s.escalator = e }

// SetClock replaces the time source.
func (s *Syncer) SetClock(now func() time.Time) { s.now = now }

// SyncPost refreshes every platform entry of postID that has an external id,
// replaces its snapshot, and recomputes aggregates and scores from all
// snapshots. A platform that cannot be read keeps its previous snapshot.
func (s *Syncer) SyncPost(ctx context.Context, postID string) (SyncResult, error) {
	unlock, err := s.locks.Lock(ctx, postID)
	if err != nil {
		return SyncResult{}, err
	}
	defer unlock()

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return SyncResult{}, err
	}
	res := SyncResult{PostID: postID}
	for i, e := range post.Platforms {
		if e.ExternalID == "" {
			continue
		}
		pm := PlatformMetrics{Platform: e.Platform, Metrics: e.Metrics}
		m, err := s.fetch(ctx, post.OwnerID, e)
		if err != nil {
			if ctx.Err() != nil {
				return SyncResult{}, ctx.Err()
			}
			pm.Error = err.Error()
			logging.Warn("platform_sync_failed", map[string]any{"post_id": postID, "platform": e.Platform, "error": err.Error()})
			res.Platforms = append(res.Platforms, pm)
			continue
		}
		at := s.now()
		if err := s.store.UpdatePlatformMetrics(ctx, postID, e.Platform, m, at); err != nil {
			return SyncResult{}, fmt.Errorf("store %s metrics: %w", e.Platform, err)
		}
		post.Platforms[i].Metrics = m
		post.Platforms[i].LastSyncedAt = &at
		pm.Metrics, pm.Synced = m, true
		res.Platforms = append(res.Platforms, pm)
	}

	res.Aggregated = analytics.Aggregate(post.Platforms)
	res.Breakdown = analytics.Breakdown(post.Platforms)
	res.Reward = model.Reward(res.Aggregated, res.Aggregated.Impressions)
	res.ViralityWeighted = model.ViralityScoreWeighted(res.Aggregated)
	res.ViralityNormalized = model.ViralityScoreNormalized(res.Aggregated, res.Aggregated.Impressions)
	if err := s.store.UpdatePostScores(ctx, postID, res.Aggregated, res.Reward.NormalizedReward, res.ViralityWeighted, res.ViralityNormalized); err != nil {
		return SyncResult{}, err
	}
	logging.Info("post_synced", map[string]any{
		"post_id": postID, "engagement": res.Reward.Engagement, "reward": res.Reward.NormalizedReward,
		"virality_weighted": res.ViralityWeighted, "virality_normalized": res.ViralityNormalized,
	})
	return res, nil
}

func (s *Syncer) fetch(ctx context.Context, ownerID string, e model.PlatformStatus) (model.Metrics, error) {
	a, err := s.adapters.Get(e.Platform)
	if err != nil {
		return model.Metrics{}, err
	}
	creds, err := s.creds.Credentials(ctx, ownerID, e.Platform)
	if err != nil {
		return model.Metrics{}, err
	}
	f, ok := a.(platform.MetricsFetcher)
	if !ok {
		return a.GetMetrics(ctx, e.ExternalID, creds), nil
	}
	tries := 0
	return resilience.WithJitteredBackoff(ctx, func(ctx context.Context) (model.Metrics, error) {
		if tries > 0 {
			metrics.IncAPIRetry("metrics:" + e.Platform)
		}
		tries++
		return f.FetchMetrics(ctx, e.ExternalID, creds)
	}, s.opts.MaxRetries, s.opts.RetryDelay)
}

// RunOnce syncs every published post inside the lookback window. Per-post
// failures are logged and counted; they never stop the batch.
func (s *Syncer) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	metrics.SyncRuns.Inc()
	defer metrics.ObserveSyncDuration(start)

	now := s.now()
	ids, err := s.store.PublishedSince(ctx, now.Add(-s.opts.Lookback))
	if err != nil {
		metrics.SyncErrors.Inc()
		return Summary{}, err
	}
	var sum Summary
	for _, id := range ids {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Posts++
		if _, err := s.SyncPost(ctx, id); err != nil {
			sum.Failed++
			metrics.SyncErrors.Inc()
			logging.Error("post_sync_error", map[string]any{"post_id": id, "error": err.Error()})
			continue
		}
		if s.escalator == nil {
			continue
		}
		ok, err := s.escalator.MaybeEscalate(ctx, id)
		if err != nil {
			logging.Error("auto_escalate_error", map[string]any{"post_id": id, "error": err.Error()})
			continue
		}
		if ok {
			sum.Escalated++
		}
	}
	_ = s.store.SaveCursor(ctx, lastRunCursor, now.Format(time.RFC3339Nano))
	logging.Info("sync_once", map[string]any{"posts": sum.Posts, "failed": sum.Failed, "escalated": sum.Escalated, "since": now.Add(-s.opts.Lookback)})
	return sum, nil
}

// RunLoop runs RunOnce immediately and then on every tick of interval until
// ctx is cancelled. A zero interval uses the configured one.
func (s *Syncer) RunLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.opts.Interval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		logging.Error("sync_once_error", map[string]any{"error": err.Error()})
	}
	for {
		select {
		case <-ctx.Done():
			logging.Info("sync_loop_stop", nil)
			return ctx.Err()
		case <-t.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logging.Error("sync_once_error", map[string]any{"error": err.Error()})
			}
		}
	}
}
