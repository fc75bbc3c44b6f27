package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"amplify/internal/model"
)

// SavePost inserts or replaces the content fields of a post. Publication and
// engagement state is only changed through the keyed updates below.
func (d *DB) SavePost(ctx context.Context, p model.Post) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.Status == "" {
		p.Status = model.PostDraft
	}
	_, err := d.sql.ExecContext(ctx, `
	INSERT INTO posts(id, owner_id, brand_id, body, media, status, published_at, created_at, updated_at)
	VALUES(?,?,?,?,?,?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET
	  owner_id=excluded.owner_id, brand_id=excluded.brand_id, body=excluded.body,
	  media=excluded.media, updated_at=excluded.updated_at`,
		p.ID, p.OwnerID, p.BrandID, p.Text, encodeStrings(p.MediaURLs), p.Status,
		nullMillis(p.PublishedAt), toMillis(p.CreatedAt), toMillis(now))
	return err
}

// GetPost loads a post with its per-platform entries.
func (d *DB) GetPost(ctx context.Context, id string) (model.Post, error) {
	var (
		p           model.Post
		media       string
		publishedAt sql.NullInt64
		campaign    sql.NullString
		created     int64
		updated     int64
	)
	row := d.sql.QueryRowContext(ctx, `
	SELECT id, owner_id, brand_id, body, media, status, likes, comments, shares, impressions,
	       reward, virality_weighted, virality_normalized, published_at, ad_campaign, created_at, updated_at
	FROM posts WHERE id=?`, id)
	err := row.Scan(&p.ID, &p.OwnerID, &p.BrandID, &p.Text, &media, &p.Status,
		&p.Metrics.Likes, &p.Metrics.Comments, &p.Metrics.Shares, &p.Metrics.Impressions,
		&p.Reward, &p.ViralityWeighted, &p.ViralityNormalized, &publishedAt, &campaign, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return p, err
	}
	p.MediaURLs = decodeStrings(media)
	p.PublishedAt = ptrMillis(publishedAt)
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	if campaign.Valid && campaign.String != "" {
		var ref model.CampaignRef
		if err := json.Unmarshal([]byte(campaign.String), &ref); err == nil {
			p.AdCampaign = &ref
		}
	}
	p.Platforms, err = d.platformStatuses(ctx, id)
	return p, err
}

func (d *DB) platformStatuses(ctx context.Context, postID string) ([]model.PlatformStatus, error) {
	rows, err := d.sql.QueryContext(ctx, `
	SELECT platform, external_id, url, status, error, likes, comments, shares, impressions, last_synced_at, published_at
	FROM platform_statuses WHERE post_id=? ORDER BY platform`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PlatformStatus
	for rows.Next() {
		var (
			s              model.PlatformStatus
			synced, pubbed sql.NullInt64
		)
		if err := rows.Scan(&s.Platform, &s.ExternalID, &s.URL, &s.Status, &s.Error,
			&s.Metrics.Likes, &s.Metrics.Comments, &s.Metrics.Shares, &s.Metrics.Impressions, &synced, &pubbed); err != nil {
			return nil, err
		}
		s.LastSyncedAt = ptrMillis(synced)
		s.PublishedAt = ptrMillis(pubbed)
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertPlatformStatus merges one platform's publish outcome into a post,
// keyed by (post, platform). Metrics snapshots are left untouched. A failure
// never downgrades an entry that is already published.
func (d *DB) UpsertPlatformStatus(ctx context.Context, postID string, s model.PlatformStatus) error {
	_, err := d.sql.ExecContext(ctx, `
	INSERT INTO platform_statuses(post_id, platform, external_id, url, status, error, published_at)
	VALUES(?,?,?,?,?,?,?)
	ON CONFLICT(post_id, platform) DO UPDATE SET
	  external_id = CASE WHEN excluded.status='failed' AND platform_statuses.status='published' THEN platform_statuses.external_id ELSE excluded.external_id END,
	  url         = CASE WHEN excluded.status='failed' AND platform_statuses.status='published' THEN platform_statuses.url ELSE excluded.url END,
	  published_at= CASE WHEN excluded.status='failed' AND platform_statuses.status='published' THEN platform_statuses.published_at ELSE excluded.published_at END,
	  error       = excluded.error,
	  status      = CASE WHEN excluded.status='failed' AND platform_statuses.status='published' THEN platform_statuses.status ELSE excluded.status END`,
		postID, s.Platform, s.ExternalID, s.URL, s.Status, s.Error, nullMillis(s.PublishedAt))
	if err != nil {
		return err
	}
	return d.touch(ctx, postID)
}

// UpdatePlatformMetrics replaces one platform's metrics snapshot.
func (d *DB) UpdatePlatformMetrics(ctx context.Context, postID, platform string, m model.Metrics, syncedAt time.Time) error {
	res, err := d.sql.ExecContext(ctx, `
	UPDATE platform_statuses SET likes=?, comments=?, shares=?, impressions=?, last_synced_at=?
	WHERE post_id=? AND platform=?`,
		m.Likes, m.Comments, m.Shares, m.Impressions, toMillis(syncedAt), postID, platform)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("platform %s of post %s: %w", platform, postID, ErrNotFound)
	}
	return nil
}

// UpdatePostScores stores aggregated metrics and derived scores.
func (d *DB) UpdatePostScores(ctx context.Context, postID string, m model.Metrics, reward, viralityWeighted, viralityNormalized float64) error {
	return d.exec1(ctx, postID, `
	UPDATE posts SET likes=?, comments=?, shares=?, impressions=?, reward=?, virality_weighted=?, virality_normalized=?, updated_at=?
	WHERE id=?`,
		m.Likes, m.Comments, m.Shares, m.Impressions, reward, viralityWeighted, viralityNormalized, toMillis(time.Now()), postID)
}

// MarkPublished sets the post status to published and stamps the publish time.
func (d *DB) MarkPublished(ctx context.Context, postID string, at time.Time) error {
	return d.exec1(ctx, postID, `UPDATE posts SET status=?, published_at=?, updated_at=? WHERE id=?`,
		model.PostPublished, toMillis(at), toMillis(time.Now()), postID)
}

// SetPostStatus changes the lifecycle status without touching publish time.
func (d *DB) SetPostStatus(ctx context.Context, postID, status string) error {
	return d.exec1(ctx, postID, `UPDATE posts SET status=?, updated_at=? WHERE id=?`, status, toMillis(time.Now()), postID)
}

// SetAdCampaign links a campaign to a post that has none yet. ErrConflict is
// returned if the post already references a campaign.
func (d *DB) SetAdCampaign(ctx context.Context, postID string, ref model.CampaignRef) error {
	b, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	res, err := d.sql.ExecContext(ctx, `UPDATE posts SET ad_campaign=?, updated_at=? WHERE id=? AND ad_campaign IS NULL`,
		string(b), toMillis(time.Now()), postID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := d.GetPost(ctx, postID); err != nil {
			return err
		}
		return fmt.Errorf("post %s campaign: %w", postID, ErrConflict)
	}
	return nil
}

// PublishedSince lists ids of published posts with a publish time at or after since.
func (d *DB) PublishedSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT id FROM posts WHERE status=? AND published_at>=? ORDER BY published_at`,
		model.PostPublished, toMillis(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *DB) touch(ctx context.Context, postID string) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE posts SET updated_at=? WHERE id=?`, toMillis(time.Now()), postID)
	return err
}

func (d *DB) exec1(ctx context.Context, postID, q string, args ...any) error {
	res, err := d.sql.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	return nil
}
