package model

import "time"

// Platform names accepted by the dispatcher.
const (
	PlatformTwitter   = "twitter"
	PlatformLinkedIn  = "linkedin"
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
)

// AllPlatforms lists the social platforms a post can be published to.
var AllPlatforms = []string{PlatformTwitter, PlatformLinkedIn, PlatformFacebook, PlatformInstagram}

// IsPlatform reports whether name is a known social platform.
func IsPlatform(name string) bool {
	for _, p := range AllPlatforms {
		if p == name {
			return true
		}
	}
	return false
}

// Post lifecycle states.
const (
	PostDraft     = "draft"
	PostScheduled = "scheduled"
	PostPublished = "published"
	PostFailed    = "failed"
)

// Per-platform entry states.
const (
	PlatformPending   = "pending"
	PlatformPublished = "published"
	PlatformFailed    = "failed"
)

// Metrics is the normalized engagement snapshot shared by every platform.
type Metrics struct {
	Likes       int `json:"likes"`
	Comments    int `json:"comments"`
	Shares      int `json:"shares"`
	Impressions int `json:"impressions"`
}

// Add returns the field-wise sum of m and o.
func (m Metrics) Add(o Metrics) Metrics {
	return Metrics{
		Likes:       m.Likes + o.Likes,
		Comments:    m.Comments + o.Comments,
		Shares:      m.Shares + o.Shares,
		Impressions: m.Impressions + o.Impressions,
	}
}

// PlatformStatus is one entry of a post's per-platform status list.
type PlatformStatus struct {
	Platform     string     `json:"platform"`
	ExternalID   string     `json:"external_id,omitempty"`
	URL          string     `json:"url,omitempty"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	Metrics      Metrics    `json:"metrics"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
}

// CampaignRef links a post to a paid campaign owned by an ad platform.
type CampaignRef struct {
	ID          string    `json:"id"`
	Platform    string    `json:"platform"`
	Status      string    `json:"status"`
	DailyBudget float64   `json:"daily_budget"`
	TotalBudget float64   `json:"total_budget"`
	CreatedAt   time.Time `json:"created_at"`
}

// Post is a content unit together with its publication and engagement state.
type Post struct {
	ID                 string           `json:"id"`
	OwnerID            string           `json:"owner_id"`
	BrandID            string           `json:"brand_id,omitempty"`
	Text               string           `json:"text"`
	MediaURLs          []string         `json:"media_urls,omitempty"`
	Status             string           `json:"status"`
	Platforms          []PlatformStatus `json:"platforms"`
	Metrics            Metrics          `json:"metrics"`
	Reward             float64          `json:"reward"`
	ViralityWeighted   float64          `json:"virality_weighted"`
	ViralityNormalized float64          `json:"virality_normalized"`
	PublishedAt        *time.Time       `json:"published_at,omitempty"`
	AdCampaign         *CampaignRef     `json:"ad_campaign,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// HasMedia reports whether the post carries at least one media asset.
func (p Post) HasMedia() bool { return len(p.MediaURLs) > 0 && p.MediaURLs[0] != "" }

// PrimaryMedia returns the first media asset or "".
func (p Post) PrimaryMedia() string {
	if !p.HasMedia() {
		return ""
	}
	return p.MediaURLs[0]
}

// PlatformEntry returns the status entry for platform, if any.
func (p Post) PlatformEntry(platform string) (PlatformStatus, bool) {
	for _, s := range p.Platforms {
		if s.Platform == platform {
			return s, true
		}
	}
	return PlatformStatus{}, false
}

// Job states. Delayed is a waiting job whose run time is still in the future;
// it is only reported separately in queue stats.
const (
	JobWaiting   = "waiting"
	JobDelayed   = "delayed"
	JobActive    = "active"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// DefaultMaxAttempts bounds how many times a publish job is tried.
const DefaultMaxAttempts = 3

// PublishJob is one scheduled attempt to publish a post to a set of platforms.
type PublishJob struct {
	ID          string     `json:"id"`
	PostID      string     `json:"post_id"`
	OwnerID     string     `json:"owner_id"`
	Platforms   []string   `json:"platforms"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	RunAt       time.Time  `json:"run_at"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	State       string     `json:"state"`
	LastError   string     `json:"last_error,omitempty"`
	Completed   []string   `json:"completed,omitempty"`
	Rejected    []string   `json:"rejected,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the job reached completed or failed.
func (j PublishJob) Terminal() bool { return j.State == JobCompleted || j.State == JobFailed }

// Remaining returns the requested platforms this job still has to publish
// to: neither completed nor rejected for good.
func (j PublishJob) Remaining() []string {
	done := make(map[string]bool, len(j.Completed)+len(j.Rejected))
	for _, p := range j.Completed {
		done[p] = true
	}
	for _, p := range j.Rejected {
		done[p] = true
	}
	var out []string
	for _, p := range j.Platforms {
		if !done[p] {
			out = append(out, p)
		}
	}
	return out
}

// Brand is the subset of a brand profile used for ad targeting.
type Brand struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Industry  string   `json:"industry" yaml:"industry"`
	Locations []string `json:"locations" yaml:"locations"`
	AgeMin    int      `json:"age_min" yaml:"ageMin"`
	AgeMax    int      `json:"age_max" yaml:"ageMax"`
	Interests []string `json:"interests" yaml:"interests"`
}
