package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Collector buffers events off the request path and writes them to a Sink
// in batches of up to batchSize, at least every flushInterval.
type Collector struct {
	sink          Sink
	eventCh       chan SearchEvent
	batchSize     int
	flushInterval time.Duration
	onDrop        func()
	logger        *slog.Logger

	startOnce sync.Once
	done      chan struct{}
}

type CollectorOption func(*Collector)

// WithDropHook is called for every event discarded because the buffer is
// full.
func WithDropHook(fn func()) CollectorOption {
	return func(c *Collector) { c.onDrop = fn }
}

func WithBatching(size int, interval time.Duration) CollectorOption {
	return func(c *Collector) {
		if size > 0 {
			c.batchSize = size
		}
		if interval > 0 {
			c.flushInterval = interval
		}
	}
}

func NewCollector(sink Sink, bufferSize int, opts ...CollectorOption) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	c := &Collector{
		sink:          sink,
		eventCh:       make(chan SearchEvent, bufferSize),
		batchSize:     100,
		flushInterval: 5 * time.Second,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the flush loop. When ctx is done the loop drains the
// buffer, flushes once more and exits; Wait blocks until then.
func (c *Collector) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.run(ctx)
		c.logger.Info("analytics collector started",
			"buffer_size", cap(c.eventCh),
			"batch_size", c.batchSize,
			"flush_interval", c.flushInterval,
		)
	})
}

// Track enqueues e without blocking. Events are dropped when the buffer is
// full.
func (c *Collector) Track(e SearchEvent) {
	select {
	case c.eventCh <- e:
	default:
		if c.onDrop != nil {
			c.onDrop()
		}
		c.logger.Warn("analytics event dropped (buffer full)", "type", e.Type)
	}
}

func (c *Collector) Wait() {
	<-c.done
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	batch := make([]SearchEvent, 0, c.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := c.sink.Write(ctx, batch); err != nil {
			c.logger.Error("analytics flush failed", "batch_size", len(batch), "error", err)
		}
		batch = make([]SearchEvent, 0, c.batchSize)
	}

	for {
		select {
		case e := <-c.eventCh:
			batch = append(batch, e)
			if len(batch) >= c.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
		drain:
			for {
				select {
				case e := <-c.eventCh:
					batch = append(batch, e)
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(flushCtx)
			cancel()
			return
		}
	}
}
