// Package notifications sends templated attendee messages. The API process only enqueues;
// the worker delivers to the messaging provider and records the outcome.
package notifications

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/metrics"
	"github.com/aura-conference/backend/pkg/queue"
)

// Button is a link button rendered under a templated message.
type Button struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Message is one templated message to one recipient (phone number).
type Message struct {
	Recipient  string            `json:"recipient"`
	TemplateID string            `json:"template_id"`
	Variables  map[string]string `json:"variables,omitempty"`
	Buttons    []Button          `json:"buttons,omitempty"`
}

// SendResult reports acceptance of a message. MessageID is the queue job id until the
// worker has delivered it.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
}

// Dispatcher is what callers depend on. Failures are never fatal to the caller's flow.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// Enqueuer is the slice of pkg/queue the dispatcher uses.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, jobType queue.JobType, payload any) (string, error)
}

// QueueDispatcher hands messages to the notification worker through Redis.
type QueueDispatcher struct {
	queue  Enqueuer
	logger *zap.Logger
}

// NewQueueDispatcher creates a Redis-backed dispatcher.
func NewQueueDispatcher(q Enqueuer, logger *zap.Logger) *QueueDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueDispatcher{queue: q, logger: logger}
}

// Send implements Dispatcher.
func (d *QueueDispatcher) Send(ctx context.Context, msg Message) (*SendResult, error) {
	msg.Recipient = NormalizePhone(msg.Recipient)
	if msg.Recipient == "" || msg.TemplateID == "" {
		metrics.NotificationsDispatched.WithLabelValues("rejected").Inc()
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "recipient and template are required")
	}
	id, err := d.queue.Enqueue(ctx, queue.QueueNotifications, queue.JobTypeNotification, msg)
	if err != nil {
		metrics.NotificationsDispatched.WithLabelValues("enqueue_failed").Inc()
		return nil, apperrors.Wrap(apperrors.CodeInternal, "enqueue notification", err)
	}
	metrics.NotificationsDispatched.WithLabelValues("queued").Inc()
	d.logger.Debug("notification queued", zap.String("job_id", id), zap.String("template_id", msg.TemplateID))
	return &SendResult{Success: true, MessageID: id}, nil
}

// NormalizePhone keeps digits and a leading plus.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
