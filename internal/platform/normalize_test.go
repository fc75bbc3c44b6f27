package platform

import (
	"strings"
	"testing"

	"amplify/internal/model"
	"amplify/internal/util"
)

func TestNormalizeTwitterRejectsOverLimit(t *testing.T) {
	if _, err := Normalize(model.PlatformTwitter, Content{Text: strings.Repeat("x", 280)}); err != nil {
		t.Fatalf("280 chars must pass: %v", err)
	}
	_, err := Normalize(model.PlatformTwitter, Content{Text: strings.Repeat("x", 281)})
	pe, ok := AsPlatformError(err)
	if !ok || pe.Reason != ReasonContentTooLong || pe.Platform != model.PlatformTwitter {
		t.Fatalf("expected content_too_long platform error, got %v", err)
	}
	if !model.IsValidation(err) {
		t.Fatalf("over-limit tweet should also be a validation error")
	}
}

func TestNormalizeTruncatingPlatforms(t *testing.T) {
	cases := []struct {
		platform string
		limit    int
	}{
		{model.PlatformLinkedIn, 3000},
		{model.PlatformFacebook, 4000},
		{model.PlatformInstagram, 2200},
	}
	for _, c := range cases {
		in := Content{Text: strings.Repeat("y", c.limit+50), MediaURL: "https://cdn/x.png"}
		out, err := Normalize(c.platform, in)
		if err != nil {
			t.Fatalf("%s: %v", c.platform, err)
		}
		if util.RuneLen(out.Text) != c.limit || !strings.HasSuffix(out.Text, "...") {
			t.Fatalf("%s: got len %d", c.platform, util.RuneLen(out.Text))
		}
		if strings.Count(out.Text, "y") != c.limit-3 {
			t.Fatalf("%s: kept %d chars", c.platform, strings.Count(out.Text, "y"))
		}
		exact := Content{Text: strings.Repeat("y", c.limit), MediaURL: "https://cdn/x.png"}
		if out, _ := Normalize(c.platform, exact); out.Text != exact.Text {
			t.Fatalf("%s: text at limit must be untouched", c.platform)
		}
	}
}

func TestNormalizeInstagramRequiresMedia(t *testing.T) {
	_, err := Normalize(model.PlatformInstagram, Content{Text: "hello"})
	if !model.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := Normalize(model.PlatformFacebook, Content{Text: "hello"}); err != nil {
		t.Fatalf("facebook media is optional: %v", err)
	}
}

func TestNormalizeUnknownPlatform(t *testing.T) {
	if _, err := Normalize("myspace", Content{Text: "x"}); !model.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
