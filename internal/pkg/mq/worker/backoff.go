package worker

import "time"

// BackoffFunc maps the number of completed tries to the delay before the
// next one.
type BackoffFunc func(attempt int) time.Duration

// Linear waits the same delay between every try.
func Linear(delay time.Duration) BackoffFunc {
	return func(int) time.Duration {
		return delay
	}
}

// Steps walks the given delays in order and stays on the last one once
// they run out.
func Steps(delays ...time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if len(delays) == 0 {
			return 0
		}
		if attempt >= len(delays) {
			return delays[len(delays)-1]
		}
		if attempt < 0 {
			return delays[0]
		}
		return delays[attempt]
	}
}

// RetryPolicy bounds the tries of one pipeline stage.
type RetryPolicy struct {
	MaxTries int
	Backoff  BackoffFunc
}

// Next reports whether another try is allowed after attempt completed tries
// and the delay to wait before it.
func (p RetryPolicy) Next(attempt int) (time.Duration, bool) {
	if attempt+1 >= p.MaxTries {
		return 0, false
	}
	return p.Backoff(attempt), true
}
