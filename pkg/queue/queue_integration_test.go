//go:build integration

package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/aura-conference/backend/pkg/testutil/containers"
)

type QueueSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	queue *Queue
}

func TestQueueSuite(t *testing.T) {
	suite.Run(t, new(QueueSuite))
}

func (s *QueueSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.queue = NewQueue(s.redis.Client, nil)
}

func (s *QueueSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *QueueSuite) TestEnqueueDequeue() {
	ctx := context.Background()
	id, err := s.queue.Enqueue(ctx, QueueNotifications, JobTypeNotification, map[string]string{"recipient": "01012345678"})
	s.Require().NoError(err)

	job, err := s.queue.Dequeue(ctx, QueueNotifications)
	s.Require().NoError(err)
	s.Require().NotNil(job)
	s.Equal(id, job.ID)
	s.Equal(JobTypeNotification, job.Type)
	s.Equal(QueueNotifications, job.Queue)
	s.JSONEq(`{"recipient":"01012345678"}`, string(job.Payload))
}

func (s *QueueSuite) TestRetryMovesToDLQAfterMaxRetries() {
	ctx := context.Background()
	_, err := s.queue.Enqueue(ctx, QueueNotifications, JobTypeNotification, map[string]string{})
	s.Require().NoError(err)

	job, err := s.queue.Dequeue(ctx, QueueNotifications)
	s.Require().NoError(err)
	for i := 1; i < MaxRetries; i++ {
		s.Require().NoError(s.queue.Retry(ctx, job))
		job, err = s.queue.Dequeue(ctx, QueueNotifications)
		s.Require().NoError(err)
		s.Require().NotNil(job)
		s.Equal(i, job.Attempt)
	}
	s.Require().NoError(s.queue.Retry(ctx, job))

	n, err := s.redis.Client.LLen(ctx, QueueDLQ).Result()
	s.Require().NoError(err)
	s.EqualValues(1, n)
	n, err = s.redis.Client.LLen(ctx, QueueNotifications).Result()
	s.Require().NoError(err)
	s.Zero(n)
}
