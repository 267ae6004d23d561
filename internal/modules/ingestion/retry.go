package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yungbote/neurobridge-rag/internal/pkg/httpx"
)

// PermanentError marks a failure that another attempt cannot fix, such as content the embedder
// rejects or a file that does not parse.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return err
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

type retryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// Retryable classifies one attempt's error. Anything httpx.IsRetryableError accepts is retried unless
// marked permanent. Of the rest, HTTP statuses and caller cancellation are final, while transport
// errors without a status (connection reset, EOF) are treated as transient.
func Retryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if httpx.IsRetryableError(err) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var sc httpx.HTTPStatusCoder
	return !errors.As(err, &sc)
}

type RetryPolicy struct {
	MaxAttempts int
	CallTimeout time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt budget is spent. Each
// attempt gets its own CallTimeout; a timed-out attempt consumes budget like any other failure.
// observe, when set, sees every failed attempt.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, observe func(err error, retryable bool)) error {
	p = p.normalized()
	var lastErr error
	attempt := 0
	for attempt < p.MaxAttempts {
		attempt++
		err := p.once(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		retryable := Retryable(err)
		if observe != nil {
			observe(err, retryable)
		}
		lastErr = err
		if !retryable || attempt >= p.MaxAttempts {
			break
		}

		delay := httpx.JitterSleep(httpx.Backoff(attempt, p.BaseDelay, p.MaxDelay))
		var h retryAfterHinter
		if errors.As(err, &h) && h.RetryAfterHint() > delay {
			delay = h.RetryAfterHint()
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
		if err := httpx.SleepCtx(ctx, delay); err != nil {
			return err
		}
	}
	if IsPermanent(lastErr) || attempt == 1 {
		return lastErr
	}
	return fmt.Errorf("after %d attempts: %w", attempt, lastErr)
}

func (p RetryPolicy) once(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
	defer cancel()
	return fn(callCtx)
}
