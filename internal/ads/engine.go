package ads

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"amplify/internal/lock"
	"amplify/internal/logging"
	"amplify/internal/metrics"
	"amplify/internal/model"
	"amplify/internal/resilience"
	"amplify/internal/store/sqlitestore"
	"amplify/internal/util"
)

// Campaign shape.
const (
	CampaignDays     = 30
	headlineRunes    = 40
	bodyRunes        = 125
	DefaultRetries   = 2
	DefaultRetryWait = time.Second
)

// ErrAlreadyEscalated rejects a second campaign for the same post.
var ErrAlreadyEscalated = errors.New("post already has an ad campaign")

// ErrBrandNotFound is returned by BrandStore implementations.
var ErrBrandNotFound = errors.New("brand not found")

// Store is the persistence the engine needs. *sqlitestore.DB implements it.
type Store interface {
	GetPost(ctx context.Context, id string) (model.Post, error)
	SetAdCampaign(ctx context.Context, postID string, ref model.CampaignRef) error
	PutEvent(ctx context.Context, ts time.Time, postID, typ string, payload any) error
}

// BrandStore resolves the brand profile used for targeting.
type BrandStore interface {
	Brand(ctx context.Context, id string) (model.Brand, error)
}

// StaticBrands serves brand profiles from configuration.
type StaticBrands map[string]model.Brand

func (s StaticBrands) Brand(ctx context.Context, id string) (model.Brand, error) {
	b, ok := s[id]
	if !ok {
		return model.Brand{}, fmt.Errorf("%s: %w", id, ErrBrandNotFound)
	}
	return b, nil
}

// Targeting narrows the campaign audience.
type Targeting struct {
	Locations []string `json:"locations,omitempty"`
	AgeMin    int      `json:"age_min,omitempty"`
	AgeMax    int      `json:"age_max,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// Creative is the ad copy and asset.
type Creative struct {
	Headline string `json:"headline"`
	Body     string `json:"body"`
	MediaURL string `json:"media_url,omitempty"`
}

// CampaignRequest is what a Campaigner receives.
type CampaignRequest struct {
	PostID      string    `json:"post_id"`
	Platform    string    `json:"platform"`
	Name        string    `json:"name"`
	Objective   string    `json:"objective"`
	DailyBudget float64   `json:"daily_budget"`
	TotalBudget float64   `json:"total_budget"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Targeting   Targeting `json:"targeting"`
	Creative    Creative  `json:"creative"`
}

// CampaignResult identifies the campaign created by the ad network.
type CampaignResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Campaigner creates campaigns on an ad network.
type Campaigner interface {
	CreateCampaign(ctx context.Context, req CampaignRequest) (CampaignResult, error)
}

type Options struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Engine analyses posts and escalates them into campaigns.
type Engine struct {
	store      Store
	brands     BrandStore
	campaigner Campaigner
	breakers   *resilience.Breakers
	locks      *lock.Keyed
	retries    int
	retryDelay time.Duration
	now        func() time.Time
}

func NewEngine(store Store, brands BrandStore, campaigner Campaigner, breakers *resilience.Breakers, locks *lock.Keyed, opts Options) *Engine {
	if locks == nil {
		locks = lock.NewKeyed()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryWait
	}
	return &Engine{
		store:      store,
		brands:     brands,
		campaigner: campaigner,
		breakers:   breakers,
		locks:      locks,
		retries:    opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// BreakerTarget names the circuit guarding an ad network.
func BreakerTarget(platform string) string { return "ads:" + platform }

// AnalyzePost loads postID and analyses it.
func (e *Engine) AnalyzePost(ctx context.Context, postID string) (Decision, error) {
	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return Decision{}, err
	}
	return Analyze(post, e.now()), nil
}

// CreateCampaign launches the campaign described by d for postID and links
// it to the post. The post is analysed again under its lock and must still
// qualify; the budget is capped at the decision maximum.
func (e *Engine) CreateCampaign(ctx context.Context, postID string, d Decision) (model.CampaignRef, error) {
	if !d.ShouldEscalate {
		return model.CampaignRef{}, model.Invalid("decision", "post does not qualify for escalation: %s", d.Reason)
	}
	if d.Platform != PlatformInstagram && d.Platform != PlatformGoogle {
		return model.CampaignRef{}, model.Invalid("platform", "unsupported ad platform %q", d.Platform)
	}
	if d.Budget <= 0 {
		return model.CampaignRef{}, model.Invalid("budget", "must be positive")
	}
	unlock, err := e.locks.Lock(ctx, postID)
	if err != nil {
		return model.CampaignRef{}, err
	}
	defer unlock()

	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return model.CampaignRef{}, err
	}
	if post.AdCampaign != nil {
		return model.CampaignRef{}, fmt.Errorf("post %s: %w", postID, ErrAlreadyEscalated)
	}
	now := e.now()
	if fresh := Analyze(post, now); !fresh.ShouldEscalate {
		return model.CampaignRef{}, model.Invalid("decision", "post does not qualify for escalation: %s", fresh.Reason)
	}
	d.Budget = math.Min(d.Budget, maxBudget)
	brand, err := e.brand(ctx, post)
	if err != nil {
		return model.CampaignRef{}, err
	}
	req := BuildRequest(post, brand, d, now)
	res, err := resilience.WithExponentialBackoff(ctx, func(ctx context.Context) (CampaignResult, error) {
		return resilience.Call(e.breakers, BreakerTarget(d.Platform), func() (CampaignResult, error) {
			return e.campaigner.CreateCampaign(ctx, req)
		})
	}, e.retries, e.retryDelay)
	if err != nil {
		logging.Error("campaign_create_failed", map[string]any{"post_id": postID, "platform": d.Platform, "error": err.Error()})
		return model.CampaignRef{}, err
	}
	ref := model.CampaignRef{
		ID:          res.ID,
		Platform:    d.Platform,
		Status:      res.Status,
		DailyBudget: req.DailyBudget,
		TotalBudget: req.TotalBudget,
		CreatedAt:   now,
	}
	if err := e.store.SetAdCampaign(ctx, postID, ref); err != nil {
		if errors.Is(err, sqlitestore.ErrConflict) {
			return model.CampaignRef{}, fmt.Errorf("post %s: %w", postID, ErrAlreadyEscalated)
		}
		return model.CampaignRef{}, err
	}
	metrics.IncEscalation(d.Platform)
	_ = e.store.PutEvent(ctx, now, postID, "escalated", ref)
	logging.Info("post_escalated", map[string]any{"post_id": postID, "campaign_id": ref.ID, "platform": ref.Platform, "budget": ref.TotalBudget})
	return ref, nil
}

// Escalate analyses postID and creates the campaign when the decision says
// so. The returned ref is nil when the post does not qualify.
func (e *Engine) Escalate(ctx context.Context, postID string) (Decision, *model.CampaignRef, error) {
	d, err := e.AnalyzePost(ctx, postID)
	if err != nil || !d.ShouldEscalate {
		return d, nil, err
	}
	ref, err := e.CreateCampaign(ctx, postID, d)
	if err != nil {
		return d, nil, err
	}
	return d, &ref, nil
}

// MaybeEscalate escalates postID if it qualifies and has no campaign yet.
func (e *Engine) MaybeEscalate(ctx context.Context, postID string) (bool, error) {
	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return false, err
	}
	if post.AdCampaign != nil {
		return false, nil
	}
	d := Analyze(post, e.now())
	if !d.ShouldEscalate {
		return false, nil
	}
	if _, err := e.CreateCampaign(ctx, postID, d); err != nil {
		if errors.Is(err, ErrAlreadyEscalated) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (e *Engine) brand(ctx context.Context, post model.Post) (model.Brand, error) {
	if post.BrandID == "" || e.brands == nil {
		return model.Brand{}, nil
	}
	b, err := e.brands.Brand(ctx, post.BrandID)
	if errors.Is(err, ErrBrandNotFound) {
		logging.Warn("brand_missing", map[string]any{"post_id": post.ID, "brand_id": post.BrandID})
		return model.Brand{}, nil
	}
	return b, err
}

// BuildRequest assembles the campaign parameters for post.
func BuildRequest(post model.Post, brand model.Brand, d Decision, now time.Time) CampaignRequest {
	name := brand.Name
	if name == "" {
		name = "Post " + post.ID
	}
	objective := "traffic"
	if d.Platform == PlatformInstagram {
		objective = "engagement"
	}
	interests := append([]string(nil), brand.Interests...)
	if brand.Industry != "" {
		interests = append(interests, brand.Industry)
	}
	text := util.NormalizeWhitespace(post.Text)
	headline := post.Text
	if i := strings.IndexAny(headline, "\n.!?"); i > 0 {
		headline = headline[:i]
	}
	return CampaignRequest{
		PostID:      post.ID,
		Platform:    d.Platform,
		Name:        name + " - " + now.Format("2006-01-02"),
		Objective:   objective,
		DailyBudget: d.Budget / CampaignDays,
		TotalBudget: d.Budget,
		StartTime:   now,
		EndTime:     now.AddDate(0, 0, CampaignDays),
		Targeting: Targeting{
			Locations: brand.Locations,
			AgeMin:    brand.AgeMin,
			AgeMax:    brand.AgeMax,
			Interests: interests,
		},
		Creative: Creative{
			Headline: util.Truncate(util.NormalizeWhitespace(headline), headlineRunes),
			Body:     util.Truncate(text, bodyRunes),
			MediaURL: post.PrimaryMedia(),
		},
	}
}
