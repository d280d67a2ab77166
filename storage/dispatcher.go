package storage

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// EventSender delivers a group of events, typically EventQueue.
type EventSender interface {
	Send(ctx context.Context, events []domain.Event) error
}

// DispatcherConfig sizes the dispatcher. Zero values are derived from the
// sender's concurrency and the CPU count. A negative HandoffTimeout drops
// events as soon as the buffer is full.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

const (
	minWorkers      = 32
	maxWorkers      = 192
	workersPerQueue = 4
	workersPerCPU   = 24
	bufferPerWorker = 128
	defaultTimeout  = 60 * time.Second
	defaultHandoff  = 15 * time.Millisecond
)

func computeWorkerDefaults(queueConcurrency, cpu int) (workers, buffer int) {
	workers = queueConcurrency * workersPerQueue
	if w := cpu * workersPerCPU; w > workers {
		workers = w
	}
	if workers < minWorkers {
		workers = minWorkers
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	return workers, workers * bufferPerWorker
}

// Dispatcher is an asynchronous domain.Publisher. Events are handed to a
// bounded pool of workers; when the buffer stays full for longer than the
// hand-off timeout the events are dropped and logged.
type Dispatcher struct {
	sender  EventSender
	log     *log.Logger
	cfg     DispatcherConfig
	jobs    chan []domain.Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped func(events []domain.Event)
}

func NewDispatcher(sender EventSender, cfg DispatcherConfig, queueConcurrency, cpu int, logger *log.Logger) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	workers, buffer := computeWorkerDefaults(queueConcurrency, cpu)
	if cfg.Workers <= 0 {
		cfg.Workers = workers
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = buffer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	switch {
	case cfg.HandoffTimeout == 0:
		cfg.HandoffTimeout = defaultHandoff
	case cfg.HandoffTimeout < 0:
		cfg.HandoffTimeout = 0
	}

	d := &Dispatcher{
		sender: sender,
		log:    logger,
		cfg:    cfg,
		jobs:   make(chan []domain.Event, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for events := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		err := d.sender.Send(ctx, events)
		cancel()
		if err != nil {
			d.log.Errorf("event send failed, err: %v, user: %s, count: %d, worker: %d", err, events[0].UserID, len(events), id)
		}
	}
}

// Publish never blocks for longer than the hand-off timeout.
func (d *Dispatcher) Publish(_ context.Context, events ...domain.Event) {
	if len(events) == 0 {
		return
	}
	if !d.tryEnqueue(events) {
		d.log.Errorf("event buffer saturated, dropped %d event(s) of user %s", len(events), events[0].UserID)
		if d.dropped != nil {
			d.dropped(events)
		}
	}
}

func (d *Dispatcher) tryEnqueue(events []domain.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.jobs <- events:
		return true
	default:
	}

	if d.cfg.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- events:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting events and waits for queued ones to be sent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}
