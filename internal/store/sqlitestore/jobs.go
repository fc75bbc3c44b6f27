package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"amplify/internal/model"
)

// QueueStats counts jobs per state. Waiting only counts jobs that are due;
// waiting jobs with a future run time are reported as Delayed.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

const jobColumns = `id, post_id, owner_id, platforms, due_at, run_at, attempts, max_attempts, state, last_error, created_at, updated_at, finished_at`

type scanner interface{ Scan(dest ...any) error }

func scanJob(s scanner) (model.PublishJob, error) {
	var (
		j                       model.PublishJob
		platforms               string
		dueAt, finishedAt       sql.NullInt64
		runAt, created, updated int64
	)
	if err := s.Scan(&j.ID, &j.PostID, &j.OwnerID, &platforms, &dueAt, &runAt, &j.Attempts, &j.MaxAttempts,
		&j.State, &j.LastError, &created, &updated, &finishedAt); err != nil {
		return j, err
	}
	j.Platforms = decodeStrings(platforms)
	j.DueAt = ptrMillis(dueAt)
	j.RunAt = fromMillis(runAt)
	j.CreatedAt = fromMillis(created)
	j.UpdatedAt = fromMillis(updated)
	j.FinishedAt = ptrMillis(finishedAt)
	return j, nil
}

// InsertJob enqueues j and claims every (post, platform) pair it names in the
// same transaction. ErrDuplicateJob is returned, and nothing is written, when
// another non-terminal job already holds one of the pairs.
func (d *DB) InsertJob(ctx context.Context, j model.PublishJob) error {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.State == "" {
		j.State = model.JobWaiting
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = model.DefaultMaxAttempts
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, p := range j.Platforms {
		res, err := tx.ExecContext(ctx, `INSERT INTO job_claims(post_id, platform, job_id) VALUES(?,?,?) ON CONFLICT(post_id, platform) DO NOTHING`,
			j.PostID, p, j.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("post %s on %s: %w", j.PostID, p, ErrDuplicateJob)
		}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO jobs(`+jobColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.PostID, j.OwnerID, encodeStrings(j.Platforms), nullMillis(j.DueAt), toMillis(j.RunAt),
		j.Attempts, j.MaxAttempts, j.State, j.LastError, toMillis(j.CreatedAt), toMillis(now), nullMillis(j.FinishedAt))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Outcomes recorded per platform in job_progress.
const (
	outcomeDone     = "done"
	outcomeRejected = "rejected"
)

// GetJob loads a job together with the platforms it has already completed or
// that were rejected for good.
func (d *DB) GetJob(ctx context.Context, id string) (model.PublishJob, error) {
	j, err := scanJob(d.sql.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return j, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return j, err
	}
	return j, d.progress(ctx, &j)
}

func (d *DB) progress(ctx context.Context, j *model.PublishJob) error {
	rows, err := d.sql.QueryContext(ctx, `SELECT platform, outcome FROM job_progress WHERE job_id=? ORDER BY platform`, j.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	j.Completed, j.Rejected = nil, nil
	for rows.Next() {
		var p, outcome string
		if err := rows.Scan(&p, &outcome); err != nil {
			return err
		}
		if outcome == outcomeRejected {
			j.Rejected = append(j.Rejected, p)
		} else {
			j.Completed = append(j.Completed, p)
		}
	}
	return rows.Err()
}

// ClaimDue atomically moves up to limit due waiting jobs to active and
// returns them. A job is handed to exactly one caller.
func (d *DB) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.PublishJob, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := d.sql.QueryContext(ctx, `
	UPDATE jobs SET state=?, updated_at=?
	WHERE id IN (SELECT id FROM jobs WHERE state=? AND run_at<=? ORDER BY run_at LIMIT ?)
	RETURNING `+jobColumns,
		model.JobActive, toMillis(now), model.JobWaiting, toMillis(now), limit)
	if err != nil {
		return nil, err
	}
	var jobs []model.PublishJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	// rows must be closed before the single connection can serve more queries.
	for i := range jobs {
		if err := d.progress(ctx, &jobs[i]); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// MarkPlatformDone records that platform succeeded within job id.
func (d *DB) MarkPlatformDone(ctx context.Context, id, platform string) error {
	return d.markProgress(ctx, id, platform, outcomeDone)
}

// MarkPlatformRejected records that platform failed permanently within job
// id; it is not dispatched again by that job.
func (d *DB) MarkPlatformRejected(ctx context.Context, id, platform string) error {
	return d.markProgress(ctx, id, platform, outcomeRejected)
}

func (d *DB) markProgress(ctx context.Context, id, platform, outcome string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO job_progress(job_id, platform, outcome) VALUES(?,?,?) ON CONFLICT DO NOTHING`, id, platform, outcome)
	return err
}

// RescheduleJob returns an active job to waiting with a new run time.
func (d *DB) RescheduleJob(ctx context.Context, id string, attempts int, runAt time.Time, lastError string) error {
	res, err := d.sql.ExecContext(ctx, `UPDATE jobs SET state=?, attempts=?, run_at=?, last_error=?, updated_at=? WHERE id=?`,
		model.JobWaiting, attempts, toMillis(runAt), lastError, toMillis(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// FinishJob moves a job to a terminal state and releases its claims.
func (d *DB) FinishJob(ctx context.Context, id, state string, attempts int, lastError string, at time.Time) error {
	if state != model.JobCompleted && state != model.JobFailed {
		return fmt.Errorf("finish job %s: %q is not a terminal state", id, state)
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET state=?, attempts=?, last_error=?, finished_at=?, updated_at=? WHERE id=?`,
		state, attempts, lastError, toMillis(at), toMillis(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_claims WHERE job_id=?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// QueueStats counts jobs by state as of now.
func (d *DB) QueueStats(ctx context.Context, now time.Time) (QueueStats, error) {
	var s QueueStats
	rows, err := d.sql.QueryContext(ctx, `
	SELECT CASE WHEN state=? AND run_at>? THEN ? ELSE state END AS st, COUNT(*)
	FROM jobs GROUP BY st`, model.JobWaiting, toMillis(now), model.JobDelayed)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return s, err
		}
		switch state {
		case model.JobWaiting:
			s.Waiting = n
		case model.JobDelayed:
			s.Delayed = n
		case model.JobActive:
			s.Active = n
		case model.JobCompleted:
			s.Completed = n
		case model.JobFailed:
			s.Failed = n
		}
	}
	return s, rows.Err()
}

// RequeueActive returns jobs left active by a stopped process to waiting.
func (d *DB) RequeueActive(ctx context.Context) (int, error) {
	res, err := d.sql.ExecContext(ctx, `UPDATE jobs SET state=?, updated_at=? WHERE state=?`,
		model.JobWaiting, toMillis(time.Now()), model.JobActive)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeFinished deletes terminal jobs that finished before the cutoff.
func (d *DB) PurgeFinished(ctx context.Context, before time.Time) (int, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	cutoff := toMillis(before)
	if _, err := tx.ExecContext(ctx, `
	DELETE FROM job_progress WHERE job_id IN (
	  SELECT id FROM jobs WHERE state IN (?,?) AND finished_at < ?)`,
		model.JobCompleted, model.JobFailed, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE state IN (?,?) AND finished_at < ?`,
		model.JobCompleted, model.JobFailed, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}
