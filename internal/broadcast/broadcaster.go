package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/VladislavPavlyuk/timeserver/internal/metrics"
	"github.com/VladislavPavlyuk/timeserver/internal/protocol"
	"github.com/VladislavPavlyuk/timeserver/internal/session"
)

// DefaultInterval is the period between two broadcast ticks
const DefaultInterval = 2 * time.Second

// Sender writes one datagram. *net.UDPConn satisfies it and is safe for
// concurrent use.
type Sender interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
}

// Source provides the sessions to deliver to on each tick
type Source interface {
	SnapshotActive() []session.Session
}

// Feed receives every tick's payload (display surfaces)
type Feed interface {
	Publish(msg protocol.TimeMessage)
}

// Config holds broadcaster parameters
type Config struct {
	Interval           time.Duration
	MaxConcurrentSends int
}

// SendResult is the outcome of delivering one tick to one session
type SendResult struct {
	Session session.Session
	Err     error
}

// TickResult summarises one tick
type TickResult struct {
	Message  protocol.TimeMessage
	Results  []SendResult
	Failures int
}

// Broadcaster pushes the current time to every active session on a fixed period
type Broadcaster struct {
	config  Config
	logger  *slog.Logger
	source  Source
	sender  Sender
	metrics *metrics.Metrics
	feed    Feed
}

// New creates a broadcaster. feed may be nil.
func New(cfg Config, logger *slog.Logger, source Source, sender Sender, m *metrics.Metrics, feed Feed) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxConcurrentSends < 1 {
		cfg.MaxConcurrentSends = 1
	}

	return &Broadcaster{
		config:  cfg,
		logger:  logger,
		source:  source,
		sender:  sender,
		metrics: m,
		feed:    feed,
	}
}

// Run ticks until ctx is cancelled. A tick in progress completes before Run
// returns. observe, when non-nil, is called with every tick's result.
func (b *Broadcaster) Run(ctx context.Context, observe func(TickResult)) {
	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()

	b.logger.Debug("Broadcaster started", slog.Duration("interval", b.config.Interval))

	for {
		select {
		case <-ctx.Done():
			b.logger.Debug("Broadcaster stopped")
			return
		case now := <-ticker.C:
			result := b.Tick(now)
			if observe != nil {
				observe(result)
			}
		}
	}
}

// Tick sends the time payload for now to every session active at call time.
// A failed send is logged and does not affect delivery to the other sessions.
func (b *Broadcaster) Tick(now time.Time) TickResult {
	startTime := time.Now()

	msg := protocol.NewTimeMessage(now)
	result := TickResult{Message: msg}

	data, err := msg.Encode()
	if err != nil {
		b.logger.Error("Failed to encode time message", slog.String("error", err.Error()))
		return result
	}

	if b.feed != nil {
		b.feed.Publish(msg)
	}

	sessions := b.source.SnapshotActive()
	if len(sessions) == 0 {
		b.metrics.RecordTick(0, 0, time.Since(startTime).Seconds())
		return result
	}

	result.Results = make([]SendResult, len(sessions))

	workers := min(b.config.MaxConcurrentSends, len(sessions))
	p := pool.New().WithMaxGoroutines(workers)
	for i, s := range sessions {
		i, s := i, s
		p.Go(func() {
			result.Results[i] = SendResult{Session: s, Err: b.send(data, s)}
		})
	}
	p.Wait()

	for _, r := range result.Results {
		if r.Err == nil {
			continue
		}
		result.Failures++
		b.logger.Warn("Error sending time to client",
			slog.String("endpoint", r.Session.Endpoint().String()),
			slog.String("label", r.Session.Label),
			slog.String("error", r.Err.Error()),
		)
	}

	b.metrics.RecordTick(len(sessions), result.Failures, time.Since(startTime).Seconds())

	b.logger.Info("Broadcasted time",
		slog.String("time", msg.Time),
		slog.Int("clients", len(sessions)),
		slog.Int("failures", result.Failures),
	)

	return result
}

func (b *Broadcaster) send(data []byte, s session.Session) error {
	n, err := b.sender.WriteTo(data, s.UDPAddr())
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}
