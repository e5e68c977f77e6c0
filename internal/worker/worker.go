// Package worker runs the background loops of cmd/worker.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/internal/notifications"
	"github.com/aura-conference/backend/pkg/metrics"
	"github.com/aura-conference/backend/pkg/queue"
)

// JobQueue is the part of pkg/queue the processor drives.
type JobQueue interface {
	Dequeue(ctx context.Context, queues ...string) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Deliverer sends one message to the messaging provider.
type Deliverer interface {
	Deliver(ctx context.Context, msg notifications.Message) (string, error)
}

// LogWriter records delivery attempts.
type LogWriter interface {
	Insert(ctx context.Context, l *models.NotificationLog) error
}

// NotificationProcessor delivers queued attendee messages.
type NotificationProcessor struct {
	queue   JobQueue
	sender  Deliverer
	logs    LogWriter
	logger  *zap.Logger
	backoff time.Duration
}

// NewNotificationProcessor creates the notification delivery processor.
func NewNotificationProcessor(q JobQueue, sender Deliverer, logs LogWriter, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{queue: q, sender: sender, logs: logs, logger: logger, backoff: queue.RetryBackoff}
}

// Process delivers one job and records the attempt. A returned error means the job
// should be retried.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeNotification {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var msg notifications.Message
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	entry := &models.NotificationLog{JobID: job.ID, Recipient: msg.Recipient, TemplateID: msg.TemplateID}
	msgID, sendErr := p.sender.Deliver(ctx, msg)
	if sendErr != nil {
		entry.Status = models.NotificationStatusFailed
		entry.ErrorMessage = sendErr.Error()
		metrics.NotificationsDispatched.WithLabelValues("failed").Inc()
	} else {
		now := time.Now()
		entry.Status = models.NotificationStatusSent
		entry.MessageID = msgID
		entry.SentAt = &now
		metrics.NotificationsDispatched.WithLabelValues("delivered").Inc()
	}
	if err := p.logs.Insert(ctx, entry); err != nil {
		p.logger.Warn("write notification log failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	if sendErr != nil {
		return fmt.Errorf("deliver: %w", sendErr)
	}
	p.logger.Info("notification delivered",
		zap.String("job_id", job.ID),
		zap.String("template_id", msg.TemplateID),
		zap.String("message_id", msgID),
	)
	return nil
}

// Run dequeues, processes and retries until ctx is done.
func (p *NotificationProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("notification worker stopping")
			return nil
		default:
		}

		job, err := p.queue.Dequeue(ctx, queue.QueueNotifications)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			sleep(ctx, p.backoff)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
