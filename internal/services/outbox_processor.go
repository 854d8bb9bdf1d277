package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"centime/internal/log"
	"centime/internal/storage"
)

// EventPublisher is what the outbox processor needs from the message broker.
type EventPublisher interface {
	PublishMutationEvent(ctx context.Context, entry storage.OutboxEntry) error
}

// OutboxProcessorConfig holds configuration for the outbox processor.
type OutboxProcessorConfig struct {
	// PollInterval is how often to check for pending entries (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of entries to publish per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the maximum publish attempts before marking as failed (default: 3)
	MaxRetries int

	// CleanupInterval is how often to clean up completed entries (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed entries must be before cleanup (default: 24h)
	CleanupAge time.Duration

	// StaleAge is how long an entry may sit in processing before it is
	// reclaimed as orphaned (default: 5m)
	StaleAge time.Duration
}

// DefaultOutboxProcessorConfig returns sensible defaults.
func DefaultOutboxProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
		StaleAge:        5 * time.Minute,
	}
}

// OutboxProcessor drains the durable outbox into the message broker. Entries
// that fail transiently go back to pending with an incremented attempt count;
// entries that exhaust their retries are parked as failed until an operator
// requeues them.
type OutboxProcessor struct {
	storage   *storage.SQLiteRepository
	publisher EventPublisher
	config    OutboxProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewOutboxProcessor(st *storage.SQLiteRepository, publisher EventPublisher, config OutboxProcessorConfig) *OutboxProcessor {
	return &OutboxProcessor{
		storage:   st,
		publisher: publisher,
		config:    config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *OutboxProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("outbox processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	// Reclaim entries a previous crash left mid-flight
	if n, err := p.storage.ResetStaleProcessing(ctx, p.config.StaleAge); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale outbox entries", log.FieldError, err)
	} else if n > 0 {
		slog.InfoContext(ctx, "Reclaimed stale outbox entries", "count", n)
	}

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Outbox processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Outbox processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running.
func (p *OutboxProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *OutboxProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	// Drain immediately on startup
	p.processBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processBatch(ctx)
		case <-cleanupTicker.C:
			p.cleanupCompleted(ctx)
		}
	}
}

func (p *OutboxProcessor) processBatch(ctx context.Context) {
	entries, err := p.storage.DequeueBatch(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue outbox batch", log.FieldError, err)
		return
	}

	if len(entries) == 0 {
		return
	}

	slog.DebugContext(ctx, "Publishing outbox batch", "count", len(entries))

	for _, entry := range entries {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := p.publisher.PublishMutationEvent(ctx, entry); err != nil {
			p.handleFailure(ctx, entry, err)
			continue
		}

		if err := p.storage.MarkCompleted(ctx, entry.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark outbox entry completed",
				"id", entry.ID, log.FieldError, err)
		}
	}
}

func (p *OutboxProcessor) handleFailure(ctx context.Context, entry storage.OutboxEntry, publishErr error) {
	slog.WarnContext(ctx, "Outbox publish failed",
		"id", entry.ID,
		"entity", entry.Entity,
		log.FieldOperation, entry.Operation,
		"attempt", entry.Attempts+1,
		log.FieldError, publishErr)

	if entry.Attempts+1 >= p.config.MaxRetries {
		if err := p.storage.MarkFailed(ctx, entry.ID, publishErr.Error()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark outbox entry failed",
				"id", entry.ID, log.FieldError, err)
		}
		slog.ErrorContext(ctx, "Outbox entry failed permanently after max retries",
			"id", entry.ID,
			"entity", entry.Entity,
			"attempts", entry.Attempts+1)
		return
	}

	if err := p.storage.Requeue(ctx, entry.ID, publishErr.Error()); err != nil {
		slog.ErrorContext(ctx, "Failed to requeue outbox entry",
			"id", entry.ID, log.FieldError, err)
	}
}

func (p *OutboxProcessor) cleanupCompleted(ctx context.Context) {
	n, err := p.storage.CleanupCompleted(ctx, p.config.CleanupAge)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup completed outbox entries", log.FieldError, err)
		return
	}
	if n > 0 {
		slog.DebugContext(ctx, "Cleaned up completed outbox entries", "count", n)
	}
}

// Stats returns current queue statistics.
func (p *OutboxProcessor) Stats(ctx context.Context) (storage.OutboxStats, error) {
	return p.storage.Stats(ctx)
}

// RetryFailed resets all failed entries for another round of attempts.
func (p *OutboxProcessor) RetryFailed(ctx context.Context) (int, error) {
	return p.storage.RetryFailed(ctx)
}
