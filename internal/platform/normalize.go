package platform

import (
	"fmt"

	"amplify/internal/model"
	"amplify/internal/util"
)

// Rule is the content constraint of one platform.
type Rule struct {
	Limit         int
	Truncate      bool
	MediaRequired bool
}

// Rules holds the per-platform text limits. Lengths are counted in runes.
var Rules = map[string]Rule{
	model.PlatformTwitter:   {Limit: 280},
	model.PlatformLinkedIn:  {Limit: 3000, Truncate: true},
	model.PlatformFacebook:  {Limit: 4000, Truncate: true},
	model.PlatformInstagram: {Limit: 2200, Truncate: true, MediaRequired: true},
}

// Normalize applies platform's rule to c. Platforms without truncation reject
// over-limit text, and a missing mandatory media asset is a ValidationError.
func Normalize(platform string, c Content) (Content, error) {
	rule, ok := Rules[platform]
	if !ok {
		return c, model.Invalid("platform", "unknown platform %q", platform)
	}
	if rule.MediaRequired && c.MediaURL == "" {
		return c, model.Invalid("media", "%s requires a media asset", platform)
	}
	n := util.RuneLen(c.Text)
	if n <= rule.Limit {
		return c, nil
	}
	if !rule.Truncate {
		return c, &PlatformError{
			Platform: platform,
			Reason:   ReasonContentTooLong,
			Message:  fmt.Sprintf("%d characters exceeds limit of %d", n, rule.Limit),
			Err:      model.Invalid("text", "exceeds %d characters", rule.Limit),
		}
	}
	c.Text = util.Truncate(c.Text, rule.Limit)
	return c, nil
}
