package model

import "math"

// viralReferenceRate is the weighted engagement rate treated as 100% virality.
const viralReferenceRate = 0.15

// RewardResult is the heuristic reward derived from a metrics snapshot.
type RewardResult struct {
	Engagement       int     `json:"engagement"`
	RawReward        float64 `json:"raw_reward"`
	NormalizedReward float64 `json:"normalized_reward"`
}

func nonNeg(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clean(m Metrics) Metrics {
	return Metrics{Likes: nonNeg(m.Likes), Comments: nonNeg(m.Comments), Shares: nonNeg(m.Shares), Impressions: nonNeg(m.Impressions)}
}

func atLeastOne(impressions int) float64 {
	if impressions < 1 {
		return 1
	}
	return float64(impressions)
}

// Reward weighs engagement per impression:
// engagement = likes + 3*comments + 5*shares, capped to 1.0 once normalized.
func Reward(m Metrics, impressions int) RewardResult {
	m = clean(m)
	engagement := m.Likes + 3*m.Comments + 5*m.Shares
	raw := float64(engagement) / atLeastOne(impressions)
	return RewardResult{
		Engagement:       engagement,
		RawReward:        raw,
		NormalizedReward: math.Min(raw, 1.0),
	}
}

// ViralityScoreWeighted is the 0–100 display score.
func ViralityScoreWeighted(m Metrics) float64 {
	m = clean(m)
	score := float64(m.Likes)*0.1 + float64(m.Shares)*0.5 + float64(m.Comments)*0.4
	return math.Min(score, 100)
}

// ViralityScoreNormalized is the 0–1 score consumed by ad escalation. It is a
// different scale from ViralityScoreWeighted and the two must not be mixed.
func ViralityScoreNormalized(m Metrics, impressions int) float64 {
	m = clean(m)
	weighted := float64(m.Shares*3 + m.Comments*2 + m.Likes)
	rate := weighted / atLeastOne(impressions)
	return math.Min(rate/viralReferenceRate, 1)
}

// EngagementRate is (likes+comments+shares) per impression.
func EngagementRate(m Metrics, impressions int) float64 {
	m = clean(m)
	return float64(m.Likes+m.Comments+m.Shares) / atLeastOne(impressions)
}
