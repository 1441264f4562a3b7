package audit

import (
	"context"
	"sync"
	"time"
)

// DefaultQueueSize is the Recorder buffer used when NewRecorder gets 0.
const DefaultQueueSize = 256

// writeTimeout bounds a single queued write.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder queues entries and writes them serially.
type Recorder struct {
	repo   Repository
	queue  chan *Entry
	logger Logger

	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewRecorder creates a Recorder. Call Start before Record.
func NewRecorder(repo Repository, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Recorder{
		repo:   repo,
		queue:  make(chan *Entry, queueSize),
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start launches the writer goroutine. It stops when ctx is cancelled or
// Stop is called, writing whatever is still queued first.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.drain(ctx)
}

// Stop ends the writer and waits for the queue to be flushed.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel == nil {
			close(r.done)
			return
		}
		r.cancel()
		<-r.done
	})
}

// Record enqueues entry. It never blocks; a full queue drops the entry.
func (r *Recorder) Record(entry *Entry) {
	select {
	case r.queue <- entry:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"action", entry.Action,
			"entity_type", entry.EntityType,
		)
	}
}

func (r *Recorder) drain(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}
