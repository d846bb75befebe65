package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/windfire/security-auth/models"
	"github.com/windfire/security-auth/repositories"
	"go.uber.org/zap"
)

// ErrBufferFull is returned by Record when the event had to be dropped.
var ErrBufferFull = errors.New("audit event buffer full")

// Recorder persists authentication events asynchronously through a worker
// pool so the authentication path never waits on the database.
// A Recorder without a repository, or a nil *Recorder, discards every event.
type Recorder struct {
	repo        repositories.AuthEventRepository
	logger      *zap.Logger
	eventChan   chan *models.AuthEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
	dropped atomic.Int64
}

// Config holds configuration for the Recorder
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewRecorder creates a Recorder. repo may be nil to disable persistence.
func NewRecorder(repo repositories.AuthEventRepository, logger *zap.Logger, cfg Config) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}

	return &Recorder{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *models.AuthEvent, cfg.BufferSize),
		workerCount: cfg.WorkerCount,
		bufferSize:  cfg.BufferSize,
	}
}

// Enabled reports whether events are persisted
func (r *Recorder) Enabled() bool {
	return r != nil && r.repo != nil
}

// Start starts the background workers
func (r *Recorder) Start() error {
	if !r.Enabled() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("audit recorder already started")
	}

	for i := 0; i < r.workerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.started = true
	r.logger.Info("started audit recorder",
		zap.Int("worker_count", r.workerCount),
		zap.Int("buffer_size", r.bufferSize))

	return nil
}

// Stop drains pending events and stops the workers
func (r *Recorder) Stop(timeout time.Duration) error {
	if !r.Enabled() {
		return nil
	}

	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("audit recorder not running")
	}
	r.stopped = true
	r.logger.Info("stopping audit recorder", zap.Int("pending_events", len(r.eventChan)))
	close(r.eventChan)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("audit recorder stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit recorder stop timeout after %v", timeout)
	}
}

// Record queues an event without blocking. Full buffers drop the event.
func (r *Recorder) Record(event *models.AuthEvent) error {
	if !r.Enabled() || event == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.started || r.stopped {
		return fmt.Errorf("audit recorder not running")
	}

	select {
	case r.eventChan <- event:
		return nil
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Action)),
			zap.String("service", event.Service))
		return ErrBufferFull
	}
}

func (r *Recorder) worker(id int) {
	defer r.wg.Done()

	for event := range r.eventChan {
		if err := r.persist(event); err != nil {
			r.logger.Error("failed to persist audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Action)),
				zap.String("service", event.Service))
		}
	}
}

func (r *Recorder) persist(event *models.AuthEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.repo.Insert(ctx, event)
}

// Recent returns persisted events, newest first. Disabled recorders return none.
func (r *Recorder) Recent(ctx context.Context, service string, limit int) ([]*models.AuthEvent, error) {
	if !r.Enabled() {
		return nil, nil
	}
	return r.repo.ListRecent(ctx, service, limit)
}

// Stats returns statistics about the recorder
func (r *Recorder) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Enabled:       r.repo != nil,
		BufferSize:    r.bufferSize,
		PendingEvents: len(r.eventChan),
		WorkerCount:   r.workerCount,
		Started:       r.started && !r.stopped,
		DroppedEvents: r.dropped.Load(),
	}
}

// Stats represents recorder statistics
type Stats struct {
	Enabled       bool  `json:"enabled"`
	BufferSize    int   `json:"buffer_size"`
	PendingEvents int   `json:"pending_events"`
	WorkerCount   int   `json:"worker_count"`
	Started       bool  `json:"started"`
	DroppedEvents int64 `json:"dropped_events"`
}
