package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/internal/notifications"
	"github.com/aura-conference/backend/pkg/queue"
)

type fakeDeliverer struct {
	err  error
	sent []notifications.Message
}

func (d *fakeDeliverer) Deliver(_ context.Context, msg notifications.Message) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.sent = append(d.sent, msg)
	return "msg-1", nil
}

type fakeLogs struct {
	mu      sync.Mutex
	entries []*models.NotificationLog
}

func (l *fakeLogs) Insert(_ context.Context, e *models.NotificationLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

type fakeJobQueue struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
}

func (q *fakeJobQueue) Dequeue(ctx context.Context, _ ...string) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Millisecond):
		}
		return nil, nil
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j, nil
}

func (q *fakeJobQueue) Retry(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried = append(q.retried, job)
	return nil
}

func notificationJob(t *testing.T, msg notifications.Message) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return &queue.Job{ID: "job-1", Type: queue.JobTypeNotification, Queue: queue.QueueNotifications, Payload: raw}
}

func TestNotificationProcessorProcess(t *testing.T) {
	ctx := context.Background()
	msg := notifications.Message{Recipient: "01011112222", TemplateID: models.TemplateBadgePrepLink}

	t.Run("delivered is logged as sent", func(t *testing.T) {
		d, logs := &fakeDeliverer{}, &fakeLogs{}
		p := NewNotificationProcessor(&fakeJobQueue{}, d, logs, nil)
		require.NoError(t, p.Process(ctx, notificationJob(t, msg)))
		require.Len(t, logs.entries, 1)
		assert.Equal(t, models.NotificationStatusSent, logs.entries[0].Status)
		assert.Equal(t, "msg-1", logs.entries[0].MessageID)
		assert.NotNil(t, logs.entries[0].SentAt)
	})

	t.Run("failure is logged and returned for retry", func(t *testing.T) {
		d, logs := &fakeDeliverer{err: errors.New("provider down")}, &fakeLogs{}
		p := NewNotificationProcessor(&fakeJobQueue{}, d, logs, nil)
		err := p.Process(ctx, notificationJob(t, msg))
		require.Error(t, err)
		require.Len(t, logs.entries, 1)
		assert.Equal(t, models.NotificationStatusFailed, logs.entries[0].Status)
		assert.Contains(t, logs.entries[0].ErrorMessage, "provider down")
	})

	t.Run("unknown job type", func(t *testing.T) {
		p := NewNotificationProcessor(&fakeJobQueue{}, &fakeDeliverer{}, &fakeLogs{}, nil)
		assert.Error(t, p.Process(ctx, &queue.Job{Type: "other"}))
	})
}

func TestNotificationProcessorRunRetriesFailures(t *testing.T) {
	q := &fakeJobQueue{}
	q.jobs = []*queue.Job{notificationJob(t, notifications.Message{Recipient: "1", TemplateID: "T"})}
	p := NewNotificationProcessor(q, &fakeDeliverer{err: errors.New("boom")}, &fakeLogs{}, nil)
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.retried) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
