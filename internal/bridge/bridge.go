// Package bridge forwards store notifications to session queues.
//
// The store NOTIFYs on channels named by session id whenever a mutation
// touches state a session observes between ticks. The bridge holds one
// physical LISTEN connection, multiplexes every registered session's
// channel over it, and survives connection loss by reconnecting with
// jittered exponential backoff. Notifications lost during a reconnect
// gap are tolerated: the next tick snapshot restores correctness.
package bridge

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vircadia/worldsync/internal/core/domain"
	"github.com/vircadia/worldsync/internal/telemetry/logger"
	"github.com/vircadia/worldsync/internal/telemetry/metric"
)

// Listener is one LISTEN-mode store connection.
type Listener interface {
	Listen(ctx context.Context, channel string) error
	Unlisten(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// ListenerFactory opens a fresh listener connection.
type ListenerFactory func(ctx context.Context) (Listener, error)

// Deliver hands a parsed notification to a session's outbound path.
type Deliver func(sessionID uuid.UUID, n domain.Notification)

// waitSlice bounds each blocking wait so queued channel changes get
// applied between waits. LISTEN and WaitForNotification share one
// connection and must not run concurrently.
const waitSlice = 250 * time.Millisecond

// Config configures the bridge.
type Config struct {
	// ReconnectBase and ReconnectCap bound the backoff between
	// reconnect attempts.
	ReconnectBase time.Duration
	ReconnectCap  time.Duration

	Logger  logger.Logger
	Metrics *metric.Registry
}

type command struct {
	channel string
	listen  bool
}

// Bridge multiplexes session notification channels over one listener.
type Bridge struct {
	factory ListenerFactory
	deliver Deliver

	base time.Duration
	cap  time.Duration

	mu       sync.Mutex
	channels map[string]struct{}
	commands chan command

	logger  logger.Logger
	metrics *metric.Registry
}

// New creates a bridge. Run must be called to start it.
func New(factory ListenerFactory, deliver Deliver, cfg Config) *Bridge {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 200 * time.Millisecond
	}
	if cfg.ReconnectCap < cfg.ReconnectBase {
		cfg.ReconnectCap = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewRegistry()
	}

	return &Bridge{
		factory:  factory,
		deliver:  deliver,
		base:     cfg.ReconnectBase,
		cap:      cfg.ReconnectCap,
		channels: make(map[string]struct{}),
		commands: make(chan command, 64),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Register starts forwarding a session's channel.
func (b *Bridge) Register(sessionID uuid.UUID) {
	ch := sessionID.String()
	b.mu.Lock()
	b.channels[ch] = struct{}{}
	b.mu.Unlock()
	b.enqueue(command{channel: ch, listen: true})
}

// Unregister stops forwarding a session's channel.
func (b *Bridge) Unregister(sessionID uuid.UUID) {
	ch := sessionID.String()
	b.mu.Lock()
	delete(b.channels, ch)
	b.mu.Unlock()
	b.enqueue(command{channel: ch, listen: false})
}

func (b *Bridge) enqueue(cmd command) {
	select {
	case b.commands <- cmd:
	default:
		// Queue full: the next reconnect resubscribes from the
		// channel set, so a dropped command self-heals.
	}
}

func (b *Bridge) registered() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.channels))
	for ch := range b.channels {
		out = append(out, ch)
	}
	return out
}

// Run drives the listener until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		l, err := b.factory(ctx)
		if err != nil {
			b.logger.Warn("bridge listener connect failed", "error", err)
			b.metrics.BridgeReconnects.Inc()
			if !sleepCtx(ctx, b.backoff(attempt)) {
				return
			}
			attempt++
			continue
		}

		if attempt > 0 {
			b.metrics.BridgeReconnects.Inc()
		}

		if err := b.resubscribe(ctx, l); err != nil {
			b.logger.Warn("bridge resubscribe failed", "error", err)
			l.Close(ctx) //nolint:errcheck
			if !sleepCtx(ctx, b.backoff(attempt)) {
				return
			}
			attempt++
			continue
		}
		attempt = 0

		err = b.pump(ctx, l)
		l.Close(context.Background()) //nolint:errcheck
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("bridge listener lost, reconnecting", "error", err)
		if !sleepCtx(ctx, b.backoff(attempt)) {
			return
		}
		attempt++
	}
}

// resubscribe re-LISTENs every registered channel on a fresh
// connection.
func (b *Bridge) resubscribe(ctx context.Context, l Listener) error {
	for _, ch := range b.registered() {
		if err := l.Listen(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

// pump applies channel commands and forwards notifications until the
// connection fails or ctx ends.
func (b *Bridge) pump(ctx context.Context, l Listener) error {
	for {
		if err := b.applyCommands(ctx, l); err != nil {
			return err
		}

		wctx, cancel := context.WithTimeout(ctx, waitSlice)
		n, err := l.WaitForNotification(wctx)
		cancel()

		switch {
		case err == nil:
			b.forward(n)
		case ctx.Err() != nil:
			return ctx.Err()
		case wctx.Err() == context.DeadlineExceeded:
			// Idle slice, go apply pending commands.
		default:
			return err
		}
	}
}

func (b *Bridge) applyCommands(ctx context.Context, l Listener) error {
	for {
		select {
		case cmd := <-b.commands:
			var err error
			if cmd.listen {
				err = l.Listen(ctx, cmd.channel)
			} else {
				err = l.Unlisten(ctx, cmd.channel)
			}
			if err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (b *Bridge) forward(n *pgconn.Notification) {
	sessionID, err := uuid.Parse(n.Channel)
	if err != nil {
		b.logger.Warn("notification on non-session channel", "channel", n.Channel)
		return
	}

	var note domain.Notification
	if err := json.Unmarshal([]byte(n.Payload), &note); err != nil {
		b.logger.Warn("malformed notification payload",
			"channel", n.Channel,
			"error", err,
		)
		return
	}

	b.deliver(sessionID, note)
	b.metrics.NotificationsRouted.Inc()
}

// backoff computes the jittered exponential delay for an attempt:
// base doubled per attempt, capped, with 20% jitter either way.
func (b *Bridge) backoff(attempt int) time.Duration {
	d := b.base << uint(attempt)
	if d > b.cap || d <= 0 {
		d = b.cap
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
