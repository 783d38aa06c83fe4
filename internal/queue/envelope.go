package queue

// RetryEnvelope pairs a delayed payload with the number of delay cycles it
// has already been through.
type RetryEnvelope struct {
	Payload  string
	Attempt  int
	MaxRetry int
}

// NewRetryEnvelope builds an envelope from a delivery's death count.
// A non-positive maxRetry selects DefaultMaxRetry.
func NewRetryEnvelope(payload string, deathCount, maxRetry int) RetryEnvelope {
	if maxRetry <= 0 {
		maxRetry = DefaultMaxRetry
	}
	if deathCount < 0 {
		deathCount = 0
	}
	return RetryEnvelope{Payload: payload, Attempt: deathCount, MaxRetry: maxRetry}
}

// Exhausted reports whether the payload has used up its delay cycles.
func (e RetryEnvelope) Exhausted() bool {
	return e.Attempt >= e.MaxRetry
}
