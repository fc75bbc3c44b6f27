package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"amplify/internal/logging"
	"amplify/internal/metrics"
	"amplify/internal/model"
	"amplify/internal/platform"
	"amplify/internal/resilience"
)

// Run starts the worker pool and blocks until ctx is cancelled. Jobs left
// active by a previous process are put back in the queue first, so a job may
// run more than once after a crash.
func (s *Scheduler) Run(ctx context.Context) error {
	if n, err := s.store.RequeueActive(ctx); err != nil {
		return err
	} else if n > 0 {
		logging.Warn("jobs_requeued", map[string]any{"count": n})
	}
	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.worker(ctx, id)
		}(i)
	}
	logging.Info("scheduler_start", map[string]any{"workers": s.opts.Workers, "poll": s.opts.PollInterval.String()})
	gc := time.NewTicker(s.opts.GCInterval)
	defer gc.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			logging.Info("scheduler_stop", nil)
			return ctx.Err()
		case <-gc.C:
			s.purge(ctx)
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	t := time.NewTicker(s.opts.PollInterval)
	defer t.Stop()
	for {
		// drain everything that is due before sleeping again
		for ctx.Err() == nil {
			jobs, err := s.store.ClaimDue(ctx, s.now(), 1)
			if err != nil {
				if ctx.Err() == nil {
					logging.Error("claim_due_error", map[string]any{"worker": id, "error": err.Error()})
				}
				break
			}
			if len(jobs) == 0 {
				break
			}
			s.process(ctx, jobs[0])
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// ProcessDue claims and processes every job due now, one at a time, and
// returns how many it handled.
func (s *Scheduler) ProcessDue(ctx context.Context) (int, error) {
	n := 0
	for {
		jobs, err := s.store.ClaimDue(ctx, s.now(), 1)
		if err != nil {
			return n, err
		}
		if len(jobs) == 0 {
			return n, nil
		}
		s.process(ctx, jobs[0])
		n++
	}
}

func (s *Scheduler) purge(ctx context.Context) {
	n, err := s.store.PurgeFinished(ctx, s.now().Add(-s.opts.Retention))
	if err != nil {
		logging.Error("job_purge_error", map[string]any{"error": err.Error()})
		return
	}
	if n > 0 {
		logging.Info("jobs_purged", map[string]any{"count": n})
	}
}

// attemptResult sorts the failures of one pass over a job's platforms.
type attemptResult struct {
	retryable bool
	retryAt   time.Time
	lastError string
	rejection string
}

func (r *attemptResult) fail(err error) {
	r.lastError = err.Error()
	switch {
	case model.IsValidation(err):
		if r.rejection == "" {
			r.rejection = err.Error()
		}
	case resilience.IsCircuitOpen(err):
		if ce := circuitError(err); ce != nil && ce.RetryAt.After(r.retryAt) {
			r.retryAt = ce.RetryAt
		}
	default:
		r.retryable = true
	}
}

// summary prefers the first rejection, which no retry can clear.
func (r attemptResult) summary(previous string) string {
	switch {
	case r.rejection != "":
		return r.rejection
	case r.lastError != "":
		return r.lastError
	}
	return previous
}

// process runs one attempt of job. Platforms that succeeded in an earlier
// attempt are skipped so a retry never publishes twice, and platforms that
// failed permanently are not dispatched again.
func (s *Scheduler) process(ctx context.Context, job model.PublishJob) {
	unlock, err := s.locks.Lock(ctx, job.PostID)
	if err != nil {
		return
	}
	defer unlock()
	metrics.IncJobTransition(model.JobActive)

	post, err := s.store.GetPost(ctx, job.PostID)
	if err != nil {
		s.finish(ctx, job, model.JobFailed, job.Attempts+1, err.Error())
		return
	}
	content := platform.Content{Text: post.Text, MediaURL: post.PrimaryMedia()}

	var res attemptResult
	for _, name := range job.Remaining() {
		if ctx.Err() != nil {
			// left active; requeued on next start
			return
		}
		pub, err := s.dispatch(ctx, job.OwnerID, name, content)
		at := s.now()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			res.fail(err)
			metrics.IncPublish(name, outcome(err))
			s.record(ctx, job, model.PlatformStatus{Platform: name, Status: model.PlatformFailed, Error: err.Error()})
			logging.Warn("platform_publish_failed", map[string]any{"job_id": job.ID, "post_id": job.PostID, "platform": name, "error": err.Error()})
			if model.IsValidation(err) {
				if err := s.store.MarkPlatformRejected(ctx, job.ID, name); err != nil {
					logging.Error("job_progress_error", map[string]any{"job_id": job.ID, "platform": name, "error": err.Error()})
				}
				job.Rejected = append(job.Rejected, name)
			}
			continue
		}
		metrics.IncPublish(name, "published")
		s.record(ctx, job, model.PlatformStatus{Platform: name, ExternalID: pub.ExternalID, URL: pub.URL, Status: model.PlatformPublished, PublishedAt: &at})
		if err := s.store.MarkPlatformDone(ctx, job.ID, name); err != nil {
			logging.Error("job_progress_error", map[string]any{"job_id": job.ID, "platform": name, "error": err.Error()})
		}
		job.Completed = append(job.Completed, name)
		_ = s.store.PutEvent(ctx, at, job.PostID, "published", map[string]string{"platform": name, "external_id": pub.ExternalID, "url": pub.URL})
	}

	now := s.now()
	lastError := res.summary(job.LastError)
	switch {
	case len(job.Remaining()) == 0 && len(job.Rejected) == 0:
		if err := s.store.MarkPublished(ctx, job.PostID, now); err != nil {
			logging.Error("post_status_error", map[string]any{"post_id": job.PostID, "error": err.Error()})
		}
		s.finish(ctx, job, model.JobCompleted, job.Attempts+1, "")
	case len(job.Remaining()) == 0:
		// nothing left that a retry could fix
		s.fail(ctx, job, post, job.Attempts+1, lastError)
	case res.retryable:
		attempts := job.Attempts + 1
		if attempts >= job.MaxAttempts {
			s.fail(ctx, job, post, attempts, lastError)
			return
		}
		s.reschedule(ctx, job, attempts, now.Add(resilience.ExponentialDelay(s.opts.BaseBackoff, attempts-1)), lastError)
	default:
		// only open circuits: wait for them without spending an attempt
		runAt := res.retryAt
		if !runAt.After(now) {
			runAt = now.Add(s.opts.PollInterval)
		}
		s.reschedule(ctx, job, job.Attempts, runAt, lastError)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, ownerID, name string, c platform.Content) (platform.Published, error) {
	a, err := s.adapters.Get(name)
	if err != nil {
		return platform.Published{}, model.Invalid("platforms", "%v", err)
	}
	creds, err := s.creds.Credentials(ctx, ownerID, name)
	if err != nil {
		return platform.Published{}, err
	}
	return resilience.Call(s.breakers, BreakerTarget(name), func() (platform.Published, error) {
		return a.Publish(ctx, c, creds)
	})
}

func (s *Scheduler) record(ctx context.Context, job model.PublishJob, st model.PlatformStatus) {
	if err := s.store.UpsertPlatformStatus(ctx, job.PostID, st); err != nil {
		logging.Error("platform_status_error", map[string]any{"job_id": job.ID, "post_id": job.PostID, "platform": st.Platform, "error": err.Error()})
	}
}

func (s *Scheduler) reschedule(ctx context.Context, job model.PublishJob, attempts int, runAt time.Time, lastError string) {
	if err := s.store.RescheduleJob(ctx, job.ID, attempts, runAt, lastError); err != nil {
		logging.Error("job_reschedule_error", map[string]any{"job_id": job.ID, "error": err.Error()})
		return
	}
	metrics.IncJobTransition(model.JobWaiting)
	logging.Info("job_retry", map[string]any{"job_id": job.ID, "post_id": job.PostID, "attempts": attempts, "run_at": runAt, "error": lastError})
}

// fail ends job. The post is failed unless it is live somewhere; platforms
// this job did reach still mark it published.
func (s *Scheduler) fail(ctx context.Context, job model.PublishJob, post model.Post, attempts int, lastError string) {
	switch {
	case len(job.Completed) > 0 && post.Status != model.PostPublished:
		if err := s.store.MarkPublished(ctx, job.PostID, s.now()); err != nil {
			logging.Error("post_status_error", map[string]any{"post_id": job.PostID, "error": err.Error()})
		}
	case !anyPublished(post, job):
		if err := s.store.SetPostStatus(ctx, job.PostID, model.PostFailed); err != nil {
			logging.Error("post_status_error", map[string]any{"post_id": job.PostID, "error": err.Error()})
		}
	}
	_ = s.store.PutEvent(ctx, s.now(), job.PostID, "publish_failed", map[string]any{"job_id": job.ID, "attempts": attempts, "error": lastError})
	s.finish(ctx, job, model.JobFailed, attempts, lastError)
}

func (s *Scheduler) finish(ctx context.Context, job model.PublishJob, state string, attempts int, lastError string) {
	if err := s.store.FinishJob(ctx, job.ID, state, attempts, lastError, s.now()); err != nil {
		logging.Error("job_finish_error", map[string]any{"job_id": job.ID, "error": err.Error()})
		return
	}
	metrics.IncJobTransition(state)
	fields := map[string]any{"job_id": job.ID, "post_id": job.PostID, "attempts": attempts}
	if state == model.JobFailed {
		fields["error"] = lastError
		logging.Error("job_failed", fields)
		return
	}
	logging.Info("job_completed", fields)
}

// anyPublished reports whether the post is live on at least one platform,
// counting successes of the current job.
func anyPublished(post model.Post, job model.PublishJob) bool {
	if len(job.Completed) > 0 {
		return true
	}
	for _, e := range post.Platforms {
		if e.Status == model.PlatformPublished {
			return true
		}
	}
	return false
}

func circuitError(err error) *resilience.CircuitOpenError {
	var ce *resilience.CircuitOpenError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

func outcome(err error) string {
	if resilience.IsCircuitOpen(err) {
		return "circuit_open"
	}
	if pe, ok := platform.AsPlatformError(err); ok {
		return pe.Reason
	}
	if model.IsValidation(err) {
		return "invalid"
	}
	return "error"
}
