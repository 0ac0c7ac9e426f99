package router

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/metrics"
	"github.com/a-essam23/go-chat/pkg/pipeline"
)

// ErrRateLimited is returned when a session sends events faster than its budget.
var ErrRateLimited = errors.New("too many events, slow down")

// --- Rate limiting ---

type limiterPool struct {
	mu    sync.Mutex
	m     map[uuid.UUID]*rate.Limiter
	limit rate.Limit
	burst int
}

func newLimiterPool(perSecond float64, burst int) *limiterPool {
	if burst <= 0 {
		burst = 1
	}
	return &limiterPool{
		m:     make(map[uuid.UUID]*rate.Limiter),
		limit: rate.Limit(perSecond),
		burst: burst,
	}
}

func (p *limiterPool) get(id uuid.UUID) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[id]; ok {
		return l
	}
	l := rate.NewLimiter(p.limit, p.burst)
	p.m[id] = l
	return l
}

func (p *limiterPool) forget(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, id)
}

// rateLimit drops events of a session that exhausted its token bucket.
func (p *limiterPool) rateLimit(next pipeline.HandlerFunc) pipeline.HandlerFunc {
	return func(c *pipeline.Cargo) error {
		if !p.get(c.Session.ID).Allow() {
			return ErrRateLimited
		}
		return next(c)
	}
}

// --- Recovery ---

// errHandlerPanic is reported to the client as an internal error.
var errHandlerPanic = errors.New("event handler panicked")

// recoverPanic turns a panic in next into errHandlerPanic and logs the stack.
func recoverPanic(next pipeline.HandlerFunc) pipeline.HandlerFunc {
	return func(c *pipeline.Cargo) (err error) {
		defer func() {
			if v := recover(); v != nil {
				c.Logger.Error("Event handler panicked",
					slog.String("event", c.Event),
					slog.Any("panic", v),
					slog.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("%w: %v", errHandlerPanic, v)
			}
		}()
		return next(c)
	}
}

// --- Instrumentation ---

func instrument(next pipeline.HandlerFunc) pipeline.HandlerFunc {
	return func(c *pipeline.Cargo) error {
		start := time.Now()
		err := next(c)
		metrics.EventDuration.WithLabelValues(c.Event).Observe(time.Since(start).Seconds())
		metrics.EventsHandled.WithLabelValues(c.Event, outcome(err)).Inc()
		return err
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, errHandlerPanic):
		return "panic"
	}
	return chat.KindOf(err).String()
}
