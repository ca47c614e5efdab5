package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrCredentialExpired classifies an auth/expiry-class failure from a
// transport or credential provider. Callers wrap it; the executor
// checks it with errors.Is. Nothing here matches on error strings.
var ErrCredentialExpired = errors.New("credentials expired")

var ErrRefreshTimeout = errors.New("credential refresh timed out")

// CredentialProvider hands out the current token cheaply and performs
// a (possibly slow) refresh on demand.
type CredentialProvider interface {
	Token() string
	Refresh(ctx context.Context) (string, error)
}

// Executor wraps a remote operation with refresh-and-retry semantics.
// Only expiry-class errors are retried; anything else propagates
// immediately. Concurrent callers hitting expiry at once share a
// single refresh.
type Executor struct {
	Creds          CredentialProvider
	MaxAttempts    int
	BaseDelay      time.Duration
	RefreshTimeout time.Duration
	RefreshSpacing time.Duration
	Log            zerolog.Logger

	group       singleflight.Group
	mu          sync.Mutex
	lastRefresh time.Time
}

const refreshKey = "refresh"

func (e *Executor) attempts() int {
	if e.MaxAttempts > 0 {
		return e.MaxAttempts
	}
	return 3
}

func (e *Executor) baseDelay() time.Duration {
	if e.BaseDelay > 0 {
		return e.BaseDelay
	}
	return 500 * time.Millisecond
}

func (e *Executor) refreshTimeout() time.Duration {
	if e.RefreshTimeout > 0 {
		return e.RefreshTimeout
	}
	return 30 * time.Second
}

func (e *Executor) refreshSpacing() time.Duration {
	if e.RefreshSpacing > 0 {
		return e.RefreshSpacing
	}
	return 5 * time.Second
}

// Do runs op, refreshing credentials and retrying with exponential
// backoff while op keeps failing with an expiry-class error. The last
// error surfaces once the attempt ceiling is reached.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context, token string) error) error {
	token := e.Creds.Token()
	var last error

	for attempt := 0; attempt < e.attempts(); attempt++ {
		err := op(ctx, token)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrCredentialExpired) {
			return err
		}
		last = err
		if attempt == e.attempts()-1 {
			break
		}

		tok, rerr := e.refresh(ctx)
		if rerr != nil {
			return fmt.Errorf("refresh after expired credentials: %w", rerr)
		}
		token = tok

		delay := e.baseDelay() << uint(attempt)
		e.Log.Debug().Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying after credential refresh")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
	return last
}

// refresh coalesces concurrent refreshes into one flight. A refresh
// that completed within the spacing window is reused as-is, so a burst
// of expiry errors cannot trigger a refresh storm. A flight that
// outlives its timeout is forgotten, which unblocks followers instead
// of deadlocking them behind a hung refresh.
func (e *Executor) refresh(ctx context.Context) (string, error) {
	e.mu.Lock()
	if !e.lastRefresh.IsZero() && time.Since(e.lastRefresh) < e.refreshSpacing() {
		e.mu.Unlock()
		return e.Creds.Token(), nil
	}
	e.mu.Unlock()

	ch := e.group.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.refreshTimeout())
		defer cancel()
		tok, err := e.Creds.Refresh(rctx)
		if err != nil {
			return "", err
		}
		e.mu.Lock()
		e.lastRefresh = time.Now()
		e.mu.Unlock()
		return tok, nil
	})

	timer := time.NewTimer(2 * e.refreshTimeout())
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-timer.C:
		e.group.Forget(refreshKey)
		return "", ErrRefreshTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
