package failure

import (
	"math"
	"math/rand/v2"
	"time"
)

// Bucket groups codes by how worthwhile a retry is.
type Bucket int

const (
	BucketNoRetry Bucket = iota
	BucketRetryable
	BucketMaybeRetryable
	BucketNeedsHuman
)

func (b Bucket) String() string {
	switch b {
	case BucketRetryable:
		return "retryable"
	case BucketMaybeRetryable:
		return "maybe_retryable"
	case BucketNeedsHuman:
		return "needs_human"
	default:
		return "no_retry"
	}
}

func BucketOf(code Code) Bucket {
	switch code {
	case CodeTimeout, CodeConnection, CodeRateLimited, CodeServiceUnavailable:
		return BucketRetryable
	case CodeTokenExchange, CodeServerError:
		return BucketMaybeRetryable
	case CodeAuthInvalid, CodeNotImplemented, CodeManualReview, CodeOCRDeferred, CodeDisagreement:
		return BucketNeedsHuman
	default:
		return BucketNoRetry
	}
}

type Strategy string

const (
	StrategyRetry   Strategy = "retry"
	StrategyCorrect Strategy = "correct"
	StrategyStop    Strategy = "stop"
	StrategyNotify  Strategy = "notify"
)

type Advice struct {
	Strategy Strategy
	Bucket   Bucket
	Remedy   string
}

func (a Advice) Retry() bool { return a.Strategy == StrategyRetry }

// Advise maps a classified error to what the caller should do next.
func Advise(e *Error) Advice {
	if e == nil {
		return Advice{Strategy: StrategyStop}
	}
	b := BucketOf(e.Code)
	a := Advice{Bucket: b, Remedy: e.Remedy}
	switch {
	case e.Code == CodeOutOfRange:
		a.Strategy = StrategyCorrect
	case b == BucketRetryable || b == BucketMaybeRetryable:
		a.Strategy = StrategyRetry
	case b == BucketNeedsHuman:
		a.Strategy = StrategyNotify
	default:
		a.Strategy = StrategyStop
	}
	return a
}

// Backoff computes exponential retry delays with jitter.
type Backoff struct {
	Base    time.Duration
	Ceiling time.Duration
	// Jitter returns a factor in [0.8, 1.2); nil uses math/rand.
	Jitter func() float64
}

func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Ceiling: 10 * time.Second}
}

func multiplier(code Code) float64 {
	switch code {
	case CodeRateLimited:
		return 2
	case CodeServiceUnavailable:
		return 1.5
	default:
		return 1
	}
}

// Delay returns base * multiplier(code) * 2^(attempt-1) * jitter, capped at
// the ceiling. attempt starts at 1.
func (b Backoff) Delay(code Code, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	j := 0.8 + rand.Float64()*0.4
	if b.Jitter != nil {
		j = b.Jitter()
	}
	d := float64(b.Base) * multiplier(code) * math.Pow(2, float64(attempt-1)) * j
	if b.Ceiling > 0 && d > float64(b.Ceiling) {
		return b.Ceiling
	}
	return time.Duration(d)
}
