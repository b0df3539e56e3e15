package importevents

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

const maxBackoff = 30 * time.Second

// stableSession is how long a session must stay up before the reconnect
// backoff starts over.
const stableSession = time.Minute

// Session is one live broker subscription. *Client implements it.
type Session interface {
	Consume(ctx context.Context, handler HandlerFunc) error
	Close() error
}

// Dialer opens a fresh session.
type Dialer func() (Session, error)

// Run consumes import events, reconnecting with exponential backoff when the
// broker connection drops. It returns when ctx ends or on a non-connection error.
func Run(ctx context.Context, dial Dialer, handler HandlerFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	var backoff reconnectBackoff
	for {
		uptime, err := consumeOnce(ctx, dial, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isConnectionError(err) {
			return err
		}
		wait := backoff.next(uptime)
		logger.Warn("import consumer disconnected", slog.Any("error", err), slog.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// consumeOnce reports how long the session was up; zero when dialing failed.
func consumeOnce(ctx context.Context, dial Dialer, handler HandlerFunc) (time.Duration, error) {
	session, err := dial()
	if err != nil {
		return 0, err
	}
	defer session.Close()
	start := time.Now()
	err = session.Consume(ctx, handler)
	return time.Since(start), err
}

type reconnectBackoff struct {
	attempt int
}

// next returns the wait before redialing, given how long the last session
// lasted.
func (b *reconnectBackoff) next(uptime time.Duration) time.Duration {
	if uptime >= stableSession {
		b.attempt = 0
	}
	wait := exponentialBackoff(b.attempt)
	b.attempt++
	return wait
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	return min(time.Second<<attempt, maxBackoff)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errChannelClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection", "eof", "broken pipe", "closed network", "dial amqp"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
