// Package dispatcher routes named fire-and-forget jobs (metric increments,
// session writes, QoD requests) off the event loop onto handler goroutines.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/eternity-ar/arcoord/internal/dispatcher"

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrQueueFull  = errors.New("queue full")
	ErrClosed     = errors.New("dispatcher closed")
)

// Job is a named unit of work with string arguments.
type Job struct {
	Name     string
	Args     []string
	Enqueued time.Time
}

// Arg returns the i-th argument or "" when absent.
func (j Job) Arg(i int) string {
	if i < 0 || i >= len(j.Args) {
		return ""
	}
	return j.Args[i]
}

// HandlerFunc processes a job.
type HandlerFunc func(Job) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes jobs to registered handlers.
type Dispatcher struct {
	logger Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	failed    metric.Int64Counter

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	buffers  map[string]chan Job
	closed   bool
	workers  sync.WaitGroup
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		buffers:  make(map[string]chan Job),
		logger:   logger,
	}

	m := otel.Meter(instrumentationName)

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of jobs in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for name, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(attribute.String("job", name)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.jobs.processed",
		metric.WithDescription("Total jobs processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.jobs.dropped",
		metric.WithDescription("Total jobs dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.jobs.failed",
		metric.WithDescription("Total buffered jobs whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given job name with optional configuration.
func (d *Dispatcher) Register(name string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := guard(name, h)

	if cfg.logged {
		handler = d.withLogging(name, handler)
	}

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(name, cfg.bufferSize, cfg.blocking, handler)
	}

	d.mu.Lock()
	d.handlers[name] = handler
	d.mu.Unlock()
}

// Dispatch routes a job to its registered handler. Buffered handlers return
// as soon as the job is queued.
func (d *Dispatcher) Dispatch(j Job) error {
	// held across the call so Close cannot close a buffer mid-send
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	h, ok := d.handlers[j.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, j.Name)
	}
	if j.Enqueued.IsZero() {
		j.Enqueued = time.Now()
	}
	return h(j)
}

// HasHandler returns true if a handler is registered for the job name.
func (d *Dispatcher) HasHandler(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[name]
	return ok
}

// Close stops accepting jobs and waits for every queued job to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		close(buf)
	}
	d.mu.Unlock()

	d.workers.Wait()
}

func (d *Dispatcher) withBuffer(name string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan Job, size)

	d.mu.Lock()
	d.buffers[name] = buffer
	d.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("job", name))

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		for j := range buffer {
			if err := h(j); err != nil {
				d.failed.Add(context.Background(), 1, attrs)
				d.logger.Error("job failed", "job", name, "error", err)
			}
			d.processed.Add(context.Background(), 1, attrs)
		}
	}()

	if blocking {
		return func(j Job) error {
			buffer <- j
			return nil
		}
	}

	return func(j Job) error {
		select {
		case buffer <- j:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, attrs)
			return fmt.Errorf("%w: %s", ErrQueueFull, name)
		}
	}
}

func (d *Dispatcher) withLogging(name string, h HandlerFunc) HandlerFunc {
	return func(j Job) error {
		start := time.Now()
		d.logger.Debug("handling job", "job", name, "args", len(j.Args), "waited", start.Sub(j.Enqueued))

		err := h(j)

		if err != nil {
			d.logger.Error("job failed", "job", name, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("job complete", "job", name, "duration", time.Since(start))
		}

		return err
	}
}

// guard turns a handler panic into an error so a bad job cannot take down its worker.
func guard(name string, h HandlerFunc) HandlerFunc {
	return func(j Job) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job %s panicked: %v", name, r)
			}
		}()
		return h(j)
	}
}
