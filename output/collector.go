package output

import (
	"log/slog"
	"sync"

	"github.com/scomans/dev-console-sub000/bus"
)

// Config configures a Collector.
type Config struct {
	// Capacity is the rolling store size per channel and globally.
	Capacity int
	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Collector converts process output into log lines, stores them and
// publishes them in batches. A batch holds every line produced between
// the first line after a flush and the moment the flusher picks them up.
type Collector struct {
	store  *Store
	lines  *bus.Bus[Batch]
	logger *slog.Logger

	// mu orders store appends with pending appends, so batches are always
	// in sequence order.
	mu      sync.Mutex
	pending Batch

	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewCollector creates a collector and starts its flusher.
func NewCollector(cfg Config) *Collector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Collector{
		store:  NewStore(cfg.Capacity),
		lines:  bus.New[Batch](),
		logger: logger.With("component", "output"),
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	c.wg.Add(1)
	go c.flushLoop()

	return c
}

// Writer returns an io.Writer for one output stream of a channel. Each
// complete line is rewritten with rw (which may be nil), sanitized and
// recorded with the given kind. The caller must Close it when the stream
// ends.
func (c *Collector) Writer(channelID string, kind Kind, rw *Rewriter) *LineWriter {
	return NewLineWriter(func(raw string) {
		line, err := rw.Apply(raw)
		if err != nil {
			c.logger.Warn("rewrite skipped", "channel", channelID, "error", err)
		}
		c.add(channelID, kind, Sanitize(line))
	})
}

// Info records a synthetic informational line.
func (c *Collector) Info(channelID, msg string) LogLine {
	return c.add(channelID, KindInfo, escapeSynthetic(msg))
}

// Error records a synthetic error line.
func (c *Collector) Error(channelID, msg string) LogLine {
	return c.add(channelID, KindError, escapeSynthetic(msg))
}

func (c *Collector) add(channelID string, kind Kind, msg string) LogLine {
	c.mu.Lock()
	line := c.store.Append(channelID, kind, msg)
	c.pending = append(c.pending, line)
	first := len(c.pending) == 1
	c.mu.Unlock()

	if first {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
	return line
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.kick:
			c.flush()
		case <-c.done:
			c.flush()
			return
		}
	}
}

func (c *Collector) flush() {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) > 0 {
		c.lines.Publish(batch)
	}
}

// SubscribeLines returns a channel of line batches and its unsubscribe
// function.
func (c *Collector) SubscribeLines() (<-chan Batch, func()) {
	return c.lines.Subscribe()
}

// Lines returns one channel's history, oldest first.
func (c *Collector) Lines(channelID string) []LogLine {
	return c.store.Lines(channelID)
}

// AllLines returns the merged history of all channels, oldest first.
func (c *Collector) AllLines() []LogLine {
	return c.store.All()
}

// Clear drops a channel's history.
func (c *Collector) Clear(channelID string) {
	c.store.Clear(channelID)
}

// Dropped returns how many batch deliveries were skipped for slow
// subscribers.
func (c *Collector) Dropped() uint64 {
	return c.lines.Dropped()
}

// Close flushes pending lines, stops the flusher and closes all
// subscriptions.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.lines.Close()
	})
}
