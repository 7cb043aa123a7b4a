package persist

import (
	"math/rand/v2"
	"time"
)

// backoff returns the wait before retry number attempt (1-based).
//
// The delay doubles from base up to limit. Half of it is fixed and half is
// random.
func backoff(attempt int, base, limit time.Duration) time.Duration {
	d := limit
	if attempt < 1 {
		attempt = 1
	}
	if shift := attempt - 1; shift < 32 {
		if v := base << shift; v > 0 && v < limit {
			d = v
		}
	}
	half := d / 2
	return half + rand.N(d-half+1)
}
