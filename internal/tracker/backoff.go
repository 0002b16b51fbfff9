package tracker

import "time"

// backoff tracks consecutive delivery failures. The delay doubles from
// base up to max; success or reconnecting clears it.
type backoff struct {
	base     time.Duration
	max      time.Duration
	failures int
	until    time.Time
}

func (b *backoff) fail(now time.Time) time.Duration {
	b.failures++
	d := b.base
	for i := 1; i < b.failures && d < b.max; i++ {
		d *= 2
	}
	d = min(d, b.max)
	b.until = now.Add(d)
	return d
}

func (b *backoff) reset() {
	b.failures = 0
	b.until = time.Time{}
}

// ready reports whether an automatic attempt is allowed at now
func (b *backoff) ready(now time.Time) bool {
	return !now.Before(b.until)
}
