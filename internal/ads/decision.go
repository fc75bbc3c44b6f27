// Package ads decides when an organic post deserves paid promotion and
// launches the campaign.
package ads

import (
	"math"
	"time"

	"amplify/internal/model"
	"amplify/internal/util"
)

// Ad networks a campaign can run on.
const (
	// PlatformInstagram is the visual-first network.
	PlatformInstagram = "instagram"
	// PlatformGoogle is the search and text network.
	PlatformGoogle = "google"
)

// Escalation thresholds.
const (
	MinHoursSincePublish = 24
	MinVirality          = 0.6
	MinEngagementRate    = 0.03
	visualVirality       = 0.7
	longCopyRunes        = 200
	baseBudget           = 50.0
	maxBudget            = 500.0
)

// B2BKeywords mark copy that performs better on the search network.
var B2BKeywords = []string{
	"b2b", "enterprise", "saas", "software", "business", "professional",
	"roi", "productivity", "solution", "platform", "integration", "workflow",
}

// Decision is the outcome of analysing a post for escalation.
type Decision struct {
	ShouldEscalate    bool    `json:"should_escalate"`
	Reason            string  `json:"reason"`
	Virality          float64 `json:"virality"`
	EngagementRate    float64 `json:"engagement_rate"`
	Reward            float64 `json:"reward"`
	HoursSincePublish float64 `json:"hours_since_publish"`
	Platform          string  `json:"platform,omitempty"`
	Budget            float64 `json:"budget,omitempty"`
}

// Signals are the inputs of Decide.
type Signals struct {
	Published         bool
	HoursSincePublish float64
	Virality          float64
	EngagementRate    float64
	Reward            float64
}

// Decide applies the escalation policy to precomputed signals. Platform and
// budget are left to the caller.
func Decide(s Signals) Decision {
	d := Decision{
		Virality:          s.Virality,
		EngagementRate:    s.EngagementRate,
		Reward:            s.Reward,
		HoursSincePublish: s.HoursSincePublish,
	}
	switch {
	case !s.Published:
		d.Reason = "not published"
	case s.HoursSincePublish < MinHoursSincePublish:
		d.Reason = "not enough signal yet"
	case s.Virality < MinVirality:
		d.Reason = "virality below threshold"
	case s.EngagementRate < MinEngagementRate:
		d.Reason = "engagement rate below threshold"
	case s.Reward <= 0:
		d.Reason = "no reward"
	default:
		d.ShouldEscalate = true
		d.Reason = "strong organic performance"
	}
	return d
}

// Analyze evaluates post as of now.
func Analyze(post model.Post, now time.Time) Decision {
	s := Signals{Published: post.Status == model.PostPublished && post.PublishedAt != nil}
	if s.Published {
		s.HoursSincePublish = now.Sub(*post.PublishedAt).Hours()
	}
	impressions := post.Metrics.Impressions
	s.Virality = model.ViralityScoreNormalized(post.Metrics, impressions)
	s.EngagementRate = model.EngagementRate(post.Metrics, impressions)
	s.Reward = model.Reward(post.Metrics, impressions).NormalizedReward

	d := Decide(s)
	if d.ShouldEscalate {
		d.Platform = SelectPlatform(post, d.Virality)
		d.Budget = Budget(d.Virality, d.EngagementRate)
	}
	return d
}

// SelectPlatform picks the ad network; the first matching rule wins.
func SelectPlatform(post model.Post, virality float64) string {
	if post.HasMedia() && virality > visualVirality {
		return PlatformInstagram
	}
	if e, ok := post.PlatformEntry(model.PlatformTwitter); ok && e.Status == model.PlatformPublished {
		return PlatformInstagram
	}
	if util.RuneLen(post.Text) > longCopyRunes || util.ContainsAnyToken(post.Text, B2BKeywords) {
		return PlatformGoogle
	}
	if post.HasMedia() {
		return PlatformInstagram
	}
	return PlatformGoogle
}

// Budget is 50 * (1+virality) * (1+10*engagementRate), rounded and capped
// at 500.
func Budget(virality, engagementRate float64) float64 {
	b := math.Round(baseBudget * (1 + virality) * (1 + engagementRate*10))
	return math.Min(b, maxBudget)
}
