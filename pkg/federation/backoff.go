package federation

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/utils/clock"
)

// linearBackOff waits base*n before attempt n+1
type linearBackOff struct {
	base     time.Duration
	attempts int
}

var _ backoff.BackOff = &linearBackOff{}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempts++
	return b.base * time.Duration(b.attempts)
}

func (b *linearBackOff) Reset() {
	b.attempts = 0
}

// clockTimer drives backoff retries from an injectable clock
type clockTimer struct {
	clock clock.Clock
	timer clock.Timer
}

var _ backoff.Timer = &clockTimer{}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C()
}
