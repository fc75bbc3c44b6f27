package analytics

import (
	"sort"

	"amplify/internal/model"
)

// Aggregate sums the latest metric snapshot of every platform entry. Totals
// are recomputed from snapshots on each sync, never accumulated.
func Aggregate(entries []model.PlatformStatus) model.Metrics {
	var total model.Metrics
	for _, e := range entries {
		total = total.Add(e.Metrics)
	}
	return total
}

// PlatformPerformance is one row of a post's per-platform breakdown.
type PlatformPerformance struct {
	Platform       string        `json:"platform"`
	Metrics        model.Metrics `json:"metrics"`
	Engagement     int           `json:"engagement"`
	EngagementRate float64       `json:"engagement_rate"`
}

// Breakdown reports published entries ordered by engagement, best first.
// Ties keep platform name order.
func Breakdown(entries []model.PlatformStatus) []PlatformPerformance {
	out := make([]PlatformPerformance, 0, len(entries))
	for _, e := range entries {
		if e.Status != model.PlatformPublished {
			continue
		}
		r := model.Reward(e.Metrics, e.Metrics.Impressions)
		out = append(out, PlatformPerformance{
			Platform:       e.Platform,
			Metrics:        e.Metrics,
			Engagement:     r.Engagement,
			EngagementRate: model.EngagementRate(e.Metrics, e.Metrics.Impressions),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Engagement != out[j].Engagement {
			return out[i].Engagement > out[j].Engagement
		}
		return out[i].Platform < out[j].Platform
	})
	return out
}
