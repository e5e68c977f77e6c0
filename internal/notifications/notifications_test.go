package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/queue"
)

type fakeQueue struct {
	err     error
	queued  []any
	queueTo []string
}

func (q *fakeQueue) Enqueue(_ context.Context, queueName string, _ queue.JobType, payload any) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.queued = append(q.queued, payload)
	q.queueTo = append(q.queueTo, queueName)
	return "job-1", nil
}

func TestQueueDispatcherSend(t *testing.T) {
	ctx := context.Background()

	t.Run("enqueues normalized message", func(t *testing.T) {
		q := &fakeQueue{}
		d := NewQueueDispatcher(q, nil)
		res, err := d.Send(ctx, Message{Recipient: "010-1234-5678", TemplateID: models.TemplateBadgePrepLink})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "job-1", res.MessageID)
		require.Len(t, q.queued, 1)
		assert.Equal(t, queue.QueueNotifications, q.queueTo[0])
		assert.Equal(t, "01012345678", q.queued[0].(Message).Recipient)
	})

	t.Run("rejects missing recipient", func(t *testing.T) {
		q := &fakeQueue{}
		_, err := NewQueueDispatcher(q, nil).Send(ctx, Message{Recipient: " - ", TemplateID: "T"})
		assert.True(t, apperrors.Is(err, apperrors.CodeInvalidArgument))
		assert.Empty(t, q.queued)
	})

	t.Run("queue failure is internal", func(t *testing.T) {
		q := &fakeQueue{err: errors.New("redis down")}
		_, err := NewQueueDispatcher(q, nil).Send(ctx, Message{Recipient: "010", TemplateID: "T"})
		assert.True(t, apperrors.Is(err, apperrors.CodeInternal))
	})
}

func TestHTTPSenderDeliver(t *testing.T) {
	t.Run("posts template message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
			var body sendRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "sender", body.SenderKey)
			assert.Equal(t, "01012345678", body.To)
			assert.Equal(t, models.TemplateBadgePrepLink, body.TemplateCode)
			assert.Equal(t, "https://badge.example/prep?token=TKN-1", body.Buttons[0].URL)
			_, _ = w.Write([]byte(`{"messageId":"msg-42"}`))
		}))
		defer srv.Close()

		s := NewHTTPSender(SenderConfig{BaseURL: srv.URL + "/", APIKey: "api-key", SenderKey: "sender"})
		id, err := s.Deliver(context.Background(), Message{
			Recipient:  "01012345678",
			TemplateID: models.TemplateBadgePrepLink,
			Buttons:    []Button{{Name: "Badge", URL: "https://badge.example/prep?token=TKN-1"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "msg-42", id)
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limited"}`))
		}))
		defer srv.Close()

		_, err := NewHTTPSender(SenderConfig{BaseURL: srv.URL}).Deliver(context.Background(), Message{Recipient: "1", TemplateID: "T"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limited")
	})

	t.Run("unconfigured base url", func(t *testing.T) {
		_, err := NewHTTPSender(SenderConfig{}).Deliver(context.Background(), Message{})
		assert.Error(t, err)
	})
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+821012345678", NormalizePhone(" +82 10-1234-5678 "))
	assert.Equal(t, "01012345678", NormalizePhone("010.1234.5678"))
	assert.Equal(t, "", NormalizePhone("n/a"))
}
