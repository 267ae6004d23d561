package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-rag/internal/data/repos"
	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/observability"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-rag/internal/platform/envutil"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

type LogConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		QueueSize:     1024,
		BatchSize:     64,
		FlushInterval: time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

func LogConfigFromEnv(log *logger.Logger) LogConfig {
	def := DefaultLogConfig()
	return LogConfig{
		QueueSize:     envutil.Int("RETRIEVAL_LOG_QUEUE_SIZE", def.QueueSize, log),
		BatchSize:     envutil.Int("RETRIEVAL_LOG_BATCH_SIZE", def.BatchSize, log),
		FlushInterval: envutil.Duration("RETRIEVAL_LOG_FLUSH_INTERVAL", def.FlushInterval, time.Millisecond, log),
		WriteTimeout:  envutil.Duration("RETRIEVAL_LOG_WRITE_TIMEOUT", def.WriteTimeout, time.Millisecond, log),
	}
}

// Logger persists retrieval logs off the request path. Log never blocks: when the queue is full the
// entry is dropped and counted.
type Logger struct {
	repo repos.RetrievalLogRepo
	log  *logger.Logger
	cfg  LogConfig

	queue chan *types.RetrievalLog
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewLogger(repo repos.RetrievalLogRepo, baseLog *logger.Logger, cfg LogConfig) (*Logger, error) {
	if repo == nil || baseLog == nil {
		return nil, fmt.Errorf("retrieval logger: missing deps")
	}
	def := DefaultLogConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	l := &Logger{
		repo:  repo,
		log:   baseLog.With("component", "RetrievalLogger"),
		cfg:   cfg,
		queue: make(chan *types.RetrievalLog, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go l.consume()
	return l, nil
}

// Log enqueues one entry and reports whether it was accepted.
func (l *Logger) Log(ctx context.Context, entry *types.RetrievalLog) bool {
	if entry == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped(ctx, "closed")
		return false
	}
	select {
	case l.queue <- entry:
		return true
	default:
		l.dropped(ctx, "queue full")
		return false
	}
}

func (l *Logger) dropped(ctx context.Context, reason string) {
	l.log.Warn("Dropping retrieval log", "reason", reason)
	observability.Current().ObserveRetrievalLogDropped(ctx, 1)
}

// Close stops accepting entries and waits for the queue to drain or ctx to end.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) consume() {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*types.RetrievalLog, 0, l.cfg.BatchSize)
	for {
		select {
		case entry, ok := <-l.queue:
			if !ok {
				l.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= l.cfg.BatchSize {
				l.flush(batch)
				batch = make([]*types.RetrievalLog, 0, l.cfg.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = make([]*types.RetrievalLog, 0, l.cfg.BatchSize)
			}
		}
	}
}

func (l *Logger) flush(batch []*types.RetrievalLog) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()
	if err := l.repo.CreateBatch(dbctx.Context{Ctx: ctx}, batch); err != nil {
		l.log.Error("Persisting retrieval logs failed", "count", len(batch), "error", err)
		observability.Current().ObserveRetrievalLogFailed(ctx, len(batch))
		return
	}
	l.log.Debug("Retrieval logs persisted", "count", len(batch))
}
