// Package scheduler runs the durable publish queue: it accepts publish
// requests, hands due jobs to a pool of workers and fans each job out to the
// requested platforms.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"amplify/internal/lock"
	"amplify/internal/logging"
	"amplify/internal/metrics"
	"amplify/internal/model"
	"amplify/internal/platform"
	"amplify/internal/resilience"
	"amplify/internal/store/sqlitestore"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultWorkers      = 4
	DefaultPollInterval = time.Second
	DefaultBaseBackoff  = 2 * time.Second
	DefaultRetention    = 7 * 24 * time.Hour
	DefaultGCInterval   = time.Hour
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Store is the persistence the scheduler needs. *sqlitestore.DB implements it.
type Store interface {
	GetPost(ctx context.Context, id string) (model.Post, error)
	UpsertPlatformStatus(ctx context.Context, postID string, s model.PlatformStatus) error
	MarkPublished(ctx context.Context, postID string, at time.Time) error
	SetPostStatus(ctx context.Context, postID, status string) error
	PutEvent(ctx context.Context, ts time.Time, postID, typ string, payload any) error

	InsertJob(ctx context.Context, j model.PublishJob) error
	GetJob(ctx context.Context, id string) (model.PublishJob, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.PublishJob, error)
	MarkPlatformDone(ctx context.Context, id, platform string) error
	MarkPlatformRejected(ctx context.Context, id, platform string) error
	RescheduleJob(ctx context.Context, id string, attempts int, runAt time.Time, lastError string) error
	FinishJob(ctx context.Context, id, state string, attempts int, lastError string, at time.Time) error
	QueueStats(ctx context.Context, now time.Time) (sqlitestore.QueueStats, error)
	RequeueActive(ctx context.Context) (int, error)
	PurgeFinished(ctx context.Context, before time.Time) (int, error)
}

// Options tunes the worker pool.
type Options struct {
	Workers      int
	PollInterval time.Duration
	// BaseBackoff is the delay after the first failed attempt; it doubles
	// with every further attempt.
	BaseBackoff time.Duration
	MaxAttempts int
	Retention   time.Duration
	GCInterval  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = DefaultBaseBackoff
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = model.DefaultMaxAttempts
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.GCInterval <= 0 {
		o.GCInterval = DefaultGCInterval
	}
	return o
}

// Scheduled is the answer to a publish request.
type Scheduled struct {
	JobID        string    `json:"job_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// JobStatus is the externally visible view of a job.
type JobStatus struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	Platforms []string  `json:"platforms"`
	Completed []string  `json:"completed"`
	Rejected  []string  `json:"rejected,omitempty"`
	Terminal  bool      `json:"terminal"`
	RunAt     time.Time `json:"run_at"`
}

// Scheduler owns the publish queue.
type Scheduler struct {
	store    Store
	adapters *platform.Registry
	creds    platform.CredentialStore
	breakers *resilience.Breakers
	locks    *lock.Keyed
	opts     Options

	now   func() time.Time
	newID func() string
}

// New wires a scheduler. locks should be shared with every other component
// that mutates posts.
func New(store Store, adapters *platform.Registry, creds platform.CredentialStore, breakers *resilience.Breakers, locks *lock.Keyed, opts Options) *Scheduler {
	if locks == nil {
		locks = lock.NewKeyed()
	}
	return &Scheduler{
		store:    store,
		adapters: adapters,
		creds:    creds,
		breakers: breakers,
		locks:    locks,
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// BreakerTarget names the circuit guarding a platform.
func BreakerTarget(name string) string { return "platform:" + name }

// Schedule enqueues a publish job for postID. A zero dueAt publishes as soon
// as a worker is free; a dueAt in the past is rejected.
func (s *Scheduler) Schedule(ctx context.Context, postID, ownerID string, platforms []string, dueAt time.Time) (Scheduled, error) {
	now := s.now()
	if postID == "" {
		return Scheduled{}, model.Invalid("post_id", "is required")
	}
	if ownerID == "" {
		return Scheduled{}, model.Invalid("owner_id", "is required")
	}
	targets, err := s.validPlatforms(platforms)
	if err != nil {
		return Scheduled{}, err
	}
	runAt := now
	var due *time.Time
	if !dueAt.IsZero() {
		if dueAt.Before(now) {
			return Scheduled{}, model.Invalid("scheduled_time", "%s is in the past", dueAt.UTC().Format(time.RFC3339))
		}
		d := dueAt.UTC()
		due, runAt = &d, d
	}
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return Scheduled{}, err
	}
	job := model.PublishJob{
		ID:          s.newID(),
		PostID:      postID,
		OwnerID:     ownerID,
		Platforms:   targets,
		DueAt:       due,
		RunAt:       runAt,
		MaxAttempts: s.opts.MaxAttempts,
		State:       model.JobWaiting,
		CreatedAt:   now,
	}
	if err := s.store.InsertJob(ctx, job); err != nil {
		return Scheduled{}, err
	}
	for _, p := range targets {
		if e, ok := post.PlatformEntry(p); ok && e.Status == model.PlatformPublished {
			continue
		}
		if err := s.store.UpsertPlatformStatus(ctx, postID, model.PlatformStatus{Platform: p, Status: model.PlatformPending}); err != nil {
			return Scheduled{}, err
		}
	}
	if post.Status != model.PostPublished {
		if err := s.store.SetPostStatus(ctx, postID, model.PostScheduled); err != nil {
			return Scheduled{}, err
		}
	}
	metrics.IncJobTransition(model.JobWaiting)
	logging.Info("job_scheduled", map[string]any{"job_id": job.ID, "post_id": postID, "platforms": targets, "run_at": runAt})
	return Scheduled{JobID: job.ID, ScheduledFor: runAt}, nil
}

// PublishNow enqueues a job with no delay.
func (s *Scheduler) PublishNow(ctx context.Context, postID, ownerID string, platforms []string) (string, error) {
	sc, err := s.Schedule(ctx, postID, ownerID, platforms, time.Time{})
	return sc.JobID, err
}

// QueueStats counts jobs per state.
func (s *Scheduler) QueueStats(ctx context.Context) (sqlitestore.QueueStats, error) {
	return s.store.QueueStats(ctx, s.now())
}

// JobStatus reports the state of a job. ErrJobNotFound is returned for
// unknown or purged ids.
func (s *Scheduler) JobStatus(ctx context.Context, id string) (JobStatus, error) {
	j, err := s.store.GetJob(ctx, id)
	if errors.Is(err, sqlitestore.ErrNotFound) {
		return JobStatus{}, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return JobStatus{}, err
	}
	state := j.State
	if state == model.JobWaiting && j.RunAt.After(s.now()) {
		state = model.JobDelayed
	}
	return JobStatus{
		ID:        j.ID,
		PostID:    j.PostID,
		State:     state,
		Attempts:  j.Attempts,
		LastError: j.LastError,
		Platforms: j.Platforms,
		Completed: j.Completed,
		Rejected:  j.Rejected,
		Terminal:  j.Terminal(),
		RunAt:     j.RunAt,
	}, nil
}

func (s *Scheduler) validPlatforms(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, model.Invalid("platforms", "at least one platform is required")
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		if !model.IsPlatform(p) || (s.adapters != nil && !s.adapters.Has(p)) {
			return nil, model.Invalid("platforms", "unsupported platform %q", p)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}
