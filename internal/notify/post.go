package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	postTimeout  = 10 * time.Second
	postAttempts = 3
	maxRetryWait = 30 * time.Second
)

// poster sends JSON payloads to a chat API. Requests are paced by a token
// bucket and retried with exponential backoff on 429 and 5xx responses. A
// Retry-After header adds its delay before the next attempt.
type poster struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
	backoff func() backoff.BackOff
}

func newPoster(name string, perSecond float64) *poster {
	return &poster{
		name:    name,
		client:  &http.Client{Timeout: postTimeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return backoff.WithMaxRetries(b, postAttempts-1)
		},
	}
}

// statusError is a non-2xx reply from the chat API.
type statusError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

func (e *statusError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= http.StatusInternalServerError
}

func (p *poster) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", p.name, err)
	}

	b := backoff.WithContext(p.backoff(), ctx)
	err = backoff.Retry(func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := p.once(ctx, url, body)
		var se *statusError
		switch {
		case err == nil:
			return nil
		case !errors.As(err, &se):
			return err
		case !se.retryable():
			return backoff.Permanent(se)
		case se.retryAfter > 0:
			if err := sleep(ctx, min(se.retryAfter, maxRetryWait)); err != nil {
				return backoff.Permanent(err)
			}
		}
		return err
	}, b)
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return nil
}

func (p *poster) once(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	se := &statusError{status: resp.StatusCode, body: string(snippet)}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		se.retryAfter = time.Duration(secs) * time.Second
	}
	return se
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
