package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"amplify/internal/ads"
	"amplify/internal/model"
	"amplify/internal/scheduler"
)

type postRequest struct {
	OwnerID   string   `json:"owner_id"`
	BrandID   string   `json:"brand_id"`
	Text      string   `json:"text"`
	MediaURLs []string `json:"media_urls"`
}

// SavePost creates or replaces the content of a post.
func (h *Handler) SavePost(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, model.Invalid("body", "invalid request format: %v", err))
		return
	}
	if req.OwnerID == "" {
		RespondError(c, model.Invalid("owner_id", "is required"))
		return
	}
	if req.Text == "" && len(req.MediaURLs) == 0 {
		RespondError(c, model.Invalid("text", "text or media is required"))
		return
	}
	p := model.Post{ID: c.Param("id"), OwnerID: req.OwnerID, BrandID: req.BrandID, Text: req.Text, MediaURLs: req.MediaURLs}
	if err := h.Posts.SavePost(c.Request.Context(), p); err != nil {
		RespondError(c, err)
		return
	}
	h.GetPost(c)
}

func (h *Handler) GetPost(c *gin.Context) {
	p, err := h.Posts.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type publishRequest struct {
	PostID        string     `json:"post_id"`
	OwnerID       string     `json:"owner_id"`
	Platforms     []string   `json:"platforms"`
	ScheduledTime *time.Time `json:"scheduled_time"`
}

func (h *Handler) SchedulePublish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, model.Invalid("body", "invalid request format: %v", err))
		return
	}
	var due time.Time
	if req.ScheduledTime != nil {
		due = *req.ScheduledTime
	}
	res, err := h.Publisher.Schedule(c.Request.Context(), req.PostID, req.OwnerID, req.Platforms, due)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h *Handler) PublishNow(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, model.Invalid("body", "invalid request format: %v", err))
		return
	}
	id, err := h.Publisher.PublishNow(c.Request.Context(), req.PostID, req.OwnerID, req.Platforms)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id})
}

func (h *Handler) QueueStats(c *gin.Context) {
	st, err := h.Publisher.QueueStats(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// JobStatus answers 404 with a null body for unknown jobs.
func (h *Handler) JobStatus(c *gin.Context) {
	st, err := h.Publisher.JobStatus(c.Request.Context(), c.Param("id"))
	if errors.Is(err, scheduler.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, nil)
		return
	}
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) SyncMetrics(c *gin.Context) {
	res, err := h.Syncer.SyncPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) AnalyzeForAds(c *gin.Context) {
	d, err := h.Ads.AnalyzePost(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type campaignRequest struct {
	Decision *ads.Decision `json:"decision"`
}

// CreateAdCampaign launches a campaign from the decision in the body, or
// from a fresh analysis when the body carries none.
func (h *Handler) CreateAdCampaign(c *gin.Context) {
	var req campaignRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, model.Invalid("body", "invalid request format: %v", err))
			return
		}
	}
	ctx := c.Request.Context()
	postID := c.Param("id")
	var d ads.Decision
	if req.Decision != nil {
		d = *req.Decision
	} else {
		var err error
		if d, err = h.Ads.AnalyzePost(ctx, postID); err != nil {
			RespondError(c, err)
			return
		}
	}
	ref, err := h.Ads.CreateCampaign(ctx, postID, d)
	if err != nil {
		RespondError(c, err)
		return
	}
	d.Budget = ref.TotalBudget
	c.JSON(http.StatusCreated, gin.H{"decision": d, "campaign": ref})
}

func (h *Handler) ROI(c *gin.Context) {
	r, err := h.Ads.PostROI(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) Circuits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": h.Breakers.Snapshots()})
}
