package probe

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff waits attempt × step between attempts.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// backoffTotal is the sum of every wait for the given number of retries.
func backoffTotal(step time.Duration, retries int) time.Duration {
	return time.Duration(retries*(retries+1)/2) * step
}
