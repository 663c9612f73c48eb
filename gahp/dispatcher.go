package gahp

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cqnkjsx/htcondor/queue"
)

const (
	DefaultWorkers    = 8
	DefaultQueueDepth = 64
)

// Config sizes the worker pool.
type Config struct {
	// Workers is the number of commands executed at once.
	Workers int
	// QueueDepth is how many accepted commands may wait for a worker before
	// Submit blocks.
	QueueDepth int
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = DefaultWorkers
	}
	if c.QueueDepth < 1 {
		c.QueueDepth = DefaultQueueDepth
	}
	return c
}

// Dispatcher accepts protocol lines, runs them on a bounded pool of workers
// and collects their result lines until drained.
type Dispatcher struct {
	runner   Runner
	metrics  *Metrics
	logger   zerolog.Logger
	commands *queue.FIFO[Command]
	results  *queue.FIFO[string]

	// signal carries one token per queued command; its capacity bounds the
	// backlog.
	signal chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards closed. Submit holds the read lock while it may block on
	// signal, so workers must never take it.
	mu     sync.RWMutex
	closed bool

	cbMu     sync.Mutex
	onResult func()
}

// NewDispatcher starts cfg.Workers workers that execute commands with
// runner. metrics may be nil.
func NewDispatcher(runner Runner, cfg Config, metrics *Metrics, logger zerolog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = NewMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		runner:   runner,
		metrics:  metrics,
		logger:   logger,
		commands: queue.New[Command](),
		results:  queue.New[string](),
		signal:   make(chan struct{}, cfg.QueueDepth),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	logger.Debug().Int("workers", cfg.Workers).Int("queue_depth", cfg.QueueDepth).Msg("dispatcher started")
	return d
}

// OnResult registers fn to be called after each command's results are
// queued. fn runs on the worker goroutine.
func (d *Dispatcher) OnResult(fn func()) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onResult = fn
}

// Submit parses line and queues it for execution. It returns false, with
// nothing queued, when the line is invalid or the dispatcher is closed. When
// every worker is busy and the backlog is full, Submit blocks.
func (d *Dispatcher) Submit(line string) bool {
	cmd, err := Parse(line)
	if err != nil {
		d.logger.Warn().Err(err).Msg("rejected command")
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn().Str("request_id", cmd.RequestID).Msg("rejected command: dispatcher closed")
		return false
	}
	d.commands.Push(cmd)
	d.signal <- struct{}{}
	d.logger.Debug().Str("request_id", cmd.RequestID).Str("command", string(cmd.Kind)).Msg("queued command")
	return true
}

// Drain removes every queued result. The first line is "S <n>", followed by
// the n results.
func (d *Dispatcher) Drain() []string {
	results := d.results.Drain()
	return append([]string{fmt.Sprintf("S %d", len(results))}, results...)
}

// Pending returns the number of results waiting to be drained.
func (d *Dispatcher) Pending() int {
	return d.results.Len()
}

// Metrics returns the dispatcher's metrics collector.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Close stops accepting commands and waits for queued and running ones to
// finish. If ctx ends first, running commands are cancelled and ctx's error
// is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.signal)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for range d.signal {
		cmd, ok := d.commands.Pop()
		if !ok {
			continue
		}
		d.run(cmd)
	}
}

func (d *Dispatcher) run(cmd Command) {
	finish := d.metrics.Begin(cmd.Kind)
	out := d.runner.Execute(d.ctx, cmd)
	finish(out.Err != nil)

	lines := make([]string, 0, len(out.Lines))
	for _, l := range out.Lines {
		lines = append(lines, cmd.RequestID+" "+l)
	}
	d.results.Push(lines...)

	d.cbMu.Lock()
	fn := d.onResult
	d.cbMu.Unlock()
	if fn != nil {
		fn()
	}
}
