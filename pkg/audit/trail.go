package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/socketgate/pkg/async"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

// TrailConfig configures a Trail
type TrailConfig struct {
	// Production also broadcasts authentication decisions flagged AdminInterest
	Production bool
	// Workers bounds concurrent publishes
	Workers int
	// QueueSize bounds pending publishes; excess events are dropped
	QueueSize      int
	WriteTimeout   time.Duration
	PublishTimeout time.Duration
}

// DefaultTrailConfig returns development defaults
func DefaultTrailConfig() TrailConfig {
	return TrailConfig{
		Workers:        2,
		QueueSize:      1024,
		WriteTimeout:   2 * time.Second,
		PublishTimeout: 2 * time.Second,
	}
}

// Trail records every authentication and authorization decision. Record
// never fails its caller: sink and publisher errors are logged and counted.
type Trail struct {
	sink    Sink
	cfg     TrailConfig
	logger  *observability.Logger
	metrics *observability.Metrics
	pool    *async.WorkerPool
	now     func() time.Time

	mu         sync.RWMutex
	publishers []Publisher
}

// NewTrail creates a trail writing to sink. Publishing runs on a worker pool
// bound to ctx. A nil logger logs to stdout.
func NewTrail(ctx context.Context, sink Sink, cfg TrailConfig, logger *observability.Logger, metrics *observability.Metrics, publishers ...Publisher) *Trail {
	def := DefaultTrailConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}

	t := &Trail{
		sink:       sink,
		cfg:        cfg,
		logger:     logger.WithField("component", "audit_trail"),
		metrics:    metrics,
		now:        time.Now,
		publishers: publishers,
	}
	t.pool = async.NewWorkerPool(ctx, logger, cfg.Workers, "audit publish", cfg.PublishTimeout,
		async.WithQueueSize(cfg.QueueSize),
		async.WithErrorHandler(func(err error) {
			t.metrics.ObserveAuditFailure("publish")
			t.logger.WithError(err).Warn("Failed to publish monitor event")
		}),
	)
	return t
}

// SetClock overrides the timestamp source
func (t *Trail) SetClock(now func() time.Time) {
	t.now = now
}

// AddPublisher registers another monitoring publisher
func (t *Trail) AddPublisher(p Publisher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishers = append(t.publishers, p)
}

// Record stamps d with an id and timestamp when missing, writes it to the
// sink and, when it is of administrative interest, publishes it.
func (t *Trail) Record(ctx context.Context, d Decision) {
	if t == nil {
		return
	}
	defer observability.RecoverPanic(t.logger, "audit record")

	if d.Timestamp.IsZero() {
		d.Timestamp = t.now()
	}
	if d.ID == "" {
		d.ID = newID(d.Timestamp)
	}
	if d.Kind.Authorization() {
		d.AdminInterest = true
	}
	t.metrics.ObserveAuditRecord(string(d.Kind), string(d.Outcome))

	// Audit writes outlive the connection that triggered them
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.WriteTimeout)
	err := t.sink.Write(wctx, d)
	cancel()
	if err != nil {
		t.metrics.ObserveAuditFailure("sink")
		t.logger.WithError(err).WithField("audit_id", d.ID).Error("Failed to write audit decision")
	}

	if t.broadcast(d) {
		t.publish(d.Monitor())
	}
}

func (t *Trail) broadcast(d Decision) bool {
	if d.Kind.Authorization() {
		return true
	}
	return t.cfg.Production && d.AdminInterest
}

func (t *Trail) publish(event MonitorEvent) {
	t.mu.RLock()
	publishers := t.publishers
	t.mu.RUnlock()

	for _, p := range publishers {
		p := p
		err := t.pool.TrySubmit(func(ctx context.Context) error {
			return p.Publish(ctx, event)
		})
		if err != nil {
			t.metrics.ObserveAuditFailure("publish")
			if errors.Is(err, async.ErrPoolFull) {
				t.logger.Warn("Monitor queue full, dropping event")
			}
		}
	}
}

// Dropped returns how many monitor events were discarded on a full queue
func (t *Trail) Dropped() int64 {
	return t.pool.Dropped()
}

// Close drains pending publishes and closes the sink
func (t *Trail) Close(ctx context.Context) error {
	poolErr := t.pool.Shutdown(ctx)
	return errors.Join(poolErr, t.sink.Close())
}
