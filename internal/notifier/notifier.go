// Package notifier owns the outbound queue: rate-limited, retried calls to
// the chat/email sinks. Template rendering happens outside the engine; a
// Request carries the already-rendered payload.
package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/steelhorse-mc/presence-engine/internal/config"
	apperrors "github.com/steelhorse-mc/presence-engine/internal/errors"
)

type Status string

const (
	StatusSent           Status = "sent"
	StatusRateLimited    Status = "rate_limited"
	StatusTransientError Status = "transient_error"
	StatusPermanentError Status = "permanent_error"
)

type Result struct {
	Status Status
	Reason string
}

type Request struct {
	Channel    string
	TemplateID string
	Payload    map[string]any
}

// Sink is the external delivery target. Permanent failures are signalled
// with apperrors.NotifierPermanent; anything else is treated as transient.
type Sink interface {
	Deliver(ctx context.Context, channel, templateID string, payload map[string]any) error
}

// Limiter gates outbound calls per channel.
type Limiter interface {
	Allow(ctx context.Context, channel string) (allowed bool, resetAt time.Time)
}

type job struct {
	req   Request
	reply chan Result
}

// Gateway drains the outbound queue on a single goroutine, which also owns
// all rate-limit state.
type Gateway struct {
	sink     Sink
	limiter  Limiter
	attempts int

	queue chan *job
	done  chan struct{}
	wg    sync.WaitGroup
}

func NewGateway(sink Sink, limiter Limiter, retryAttempts int) *Gateway {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Gateway{
		sink:     sink,
		limiter:  limiter,
		attempts: retryAttempts,
		queue:    make(chan *job, 256),
		done:     make(chan struct{}),
	}
}

func (g *Gateway) Start() {
	g.wg.Add(1)
	go g.run()
	log.Info().Int("attempts", g.attempts).Msg("notifier gateway started")
}

// Stop finishes the in-flight attempt and rejects everything still queued.
func (g *Gateway) Stop() {
	close(g.done)
	g.wg.Wait()
	log.Info().Msg("notifier gateway stopped")
}

// Send enqueues a notification and blocks until it is delivered, fails, or
// ctx expires.
func (g *Gateway) Send(ctx context.Context, req Request) Result {
	j := &job{req: req, reply: make(chan Result, 1)}

	select {
	case <-g.done:
		return Result{Status: StatusTransientError, Reason: "notifier stopped"}
	default:
	}

	select {
	case g.queue <- j:
	case <-g.done:
		return Result{Status: StatusTransientError, Reason: "notifier stopped"}
	case <-ctx.Done():
		return Result{Status: StatusTransientError, Reason: "enqueue cancelled"}
	}

	select {
	case res := <-j.reply:
		return res
	case <-ctx.Done():
		return Result{Status: StatusTransientError, Reason: "wait cancelled"}
	}
}

func (g *Gateway) run() {
	defer g.wg.Done()

	for {
		select {
		case <-g.done:
			g.rejectQueued()
			return
		case j := <-g.queue:
			g.handle(j)
		}
	}
}

func (g *Gateway) rejectQueued() {
	for {
		select {
		case j := <-g.queue:
			j.reply <- Result{Status: StatusTransientError, Reason: "notifier stopped"}
		default:
			return
		}
	}
}

func (g *Gateway) handle(j *job) {
	limitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	allowed, resetAt := g.limiter.Allow(limitCtx, j.req.Channel)
	cancel()

	if !allowed {
		// wait out the window, then re-enqueue at the tail
		wait := time.Until(resetAt)
		if wait < 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		if wait > time.Second {
			wait = time.Second
		}
		select {
		case <-g.done:
			j.reply <- Result{Status: StatusTransientError, Reason: "notifier stopped"}
			return
		case <-time.After(wait):
		}
		select {
		case g.queue <- j:
		default:
			j.reply <- Result{Status: StatusRateLimited, Reason: "queue full"}
		}
		return
	}

	j.reply <- g.deliver(j.req)
}

func (g *Gateway) deliver(req Request) Result {
	var lastErr error

	for attempt := 0; attempt < g.attempts; attempt++ {
		if attempt > 0 {
			backoff := config.NotifierBackoffBase << (attempt - 1)
			if backoff > config.NotifierBackoffCap {
				backoff = config.NotifierBackoffCap
			}
			select {
			case <-g.done:
				return Result{Status: StatusTransientError, Reason: "notifier stopped"}
			case <-time.After(backoff):
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.NotifierAttemptTimeout)
		err := g.sink.Deliver(ctx, req.Channel, req.TemplateID, req.Payload)
		cancel()

		if err == nil {
			return Result{Status: StatusSent}
		}
		if apperrors.IsPermanent(err) {
			return Result{Status: StatusPermanentError, Reason: err.Error()}
		}
		lastErr = err
		log.Warn().Err(err).
			Str("channel", req.Channel).
			Int("attempt", attempt+1).
			Msg("notifier delivery failed")
	}

	return Result{Status: StatusTransientError, Reason: lastErr.Error()}
}
