package gateway

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Source is the stream the presence tracker consumes.
type Source interface {
	// Events delivers normalized events in arrival order.
	Events() <-chan Event
	// Run blocks until ctx is cancelled, reconnecting as needed.
	Run(ctx context.Context) error
}

type Config struct {
	URL         string
	Token       string
	ReadTimeout time.Duration
	BackoffCap  time.Duration
}

// Client is the websocket gateway source. A transient disconnect drives an
// exponential backoff reconnect; every successful (re)connect yields a Ready
// frame from the platform, which the tracker uses to reconcile.
type Client struct {
	cfg    Config
	filter *Filter
	events chan Event

	reconnects atomic.Int64
}

func NewClient(cfg Config, filter *Filter) *Client {
	return &Client{
		cfg:    cfg,
		filter: filter,
		events: make(chan Event, 256),
	}
}

func (c *Client) Events() <-chan Event {
	return c.events
}

// Reconnects reports how many reconnect attempts have been made.
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	backoff := time.Second

	for {
		if err := c.runConn(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.reconnects.Add(1)
			log.Warn().Err(err).Dur("backoff", backoff).Msg("gateway disconnected, reconnecting")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > c.cfg.BackoffCap {
				backoff = c.cfg.BackoffCap
			}
			continue
		}
		return nil
	}
}

func (c *Client) runConn(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Info().Str("url", c.cfg.URL).Msg("gateway connected")

	// close the socket when ctx is cancelled to unblock ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	norm := newNormalizer(c.filter)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				c.emit(ctx, norm.flush())
				return nil
			}
			// a stalled read times out here and triggers a reconnect
			c.emit(ctx, norm.flush())
			return err
		}

		events, err := norm.push(raw)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed gateway frame")
		}
		if !c.emit(ctx, events) {
			return nil
		}
	}
}

func (c *Client) emit(ctx context.Context, events []Event) bool {
	for _, ev := range events {
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
