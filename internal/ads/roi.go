package ads

import (
	"context"

	"amplify/internal/model"
)

// ROIReport combines organic and paid results of an escalated post.
type ROIReport struct {
	HasAds            bool               `json:"has_ads"`
	Campaign          *model.CampaignRef `json:"campaign,omitempty"`
	Organic           model.Metrics      `json:"organic"`
	Paid              model.Metrics      `json:"paid"`
	TotalEngagement   int                `json:"total_engagement"`
	Spend             float64            `json:"spend"`
	CostPerEngagement float64            `json:"cost_per_engagement"`
}

// ROI reports cost per engagement for post. Paid metrics are not sourced
// yet and count as zero.
func ROI(post model.Post) ROIReport {
	if post.AdCampaign == nil {
		return ROIReport{HasAds: false, Organic: post.Metrics}
	}
	var paid model.Metrics
	total := post.Metrics.Add(paid)
	engagement := total.Likes + total.Comments + total.Shares
	if engagement < 0 {
		engagement = 0
	}
	spend := post.AdCampaign.TotalBudget
	denom := engagement
	if denom < 1 {
		denom = 1
	}
	ref := *post.AdCampaign
	return ROIReport{
		HasAds:            true,
		Campaign:          &ref,
		Organic:           post.Metrics,
		Paid:              paid,
		TotalEngagement:   engagement,
		Spend:             spend,
		CostPerEngagement: spend / float64(denom),
	}
}

// PostROI loads postID and reports its ROI.
func (e *Engine) PostROI(ctx context.Context, postID string) (ROIReport, error) {
	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return ROIReport{}, err
	}
	return ROI(post), nil
}
