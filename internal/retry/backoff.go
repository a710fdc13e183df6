package retry

import "time"

const (
	// MaxRetries is the number of retries after the initial attempt.
	// A record therefore sees at most MaxRetries+1 delivery attempts.
	MaxRetries = 3

	// maxDelay caps the exponential backoff.
	maxDelay = 300 * time.Second

	baseDelay = 10 * time.Second
)

// Delay returns the backoff before the given retry (1-indexed):
// 2^retryCount * 10s, capped at 300s. Retries 1..3 wait 20s, 40s, 80s.
func Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	// Shift saturates well before overflow territory thanks to the cap.
	if retryCount > 5 {
		return maxDelay
	}
	delay := baseDelay * (1 << retryCount)
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
