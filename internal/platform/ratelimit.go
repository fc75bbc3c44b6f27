package platform

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// newLimiter creates a per-platform limiter. Explicit settings win, then env
// overrides such as TWITTER_API_RPS / TWITTER_API_BURST, then defaults.
func newLimiter(platform string, rps float64, burst int) *rate.Limiter {
	prefix := strings.ToUpper(platform) + "_API_"
	if rps <= 0 {
		rps = 2.0
		if v := os.Getenv(prefix + "RPS"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				rps = f
			}
		}
	}
	if burst <= 0 {
		burst = 10
		if v := os.Getenv(prefix + "BURST"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				burst = n
			}
		}
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
