//go:build integration

package registrations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/testutil/containers"
)

type RepositorySuite struct {
	suite.Suite
	pg   *containers.PostgresContainer
	repo *Repository
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.pg.Seed(s.T(), "kms", "conf-2026")
	s.repo = NewRepository(s.pg.Pool)
}

func (s *RepositorySuite) SetupTest() {
	_, err := s.pg.Pool.Exec(context.Background(), `TRUNCATE registrations, registration_logs, attendance_logs, participation_history, badge_tokens`)
	s.Require().NoError(err)
}

func (s *RepositorySuite) pending(id, orderID string) *models.Registration {
	return &models.Registration{
		ConferenceID:  "conf-2026",
		ID:            id,
		OrderID:       orderID,
		Status:        models.StatusPendingPayment,
		PaymentStatus: models.StatusPendingPayment,
		Amount:        50000,
		Name:          "Kim",
		Phone:         "01012345678",
	}
}

func (s *RepositorySuite) TestReplaceLeavesPaidRegistrationsAlone() {
	ctx := context.Background()
	reg := s.pending("r1", "order-1")
	ok, err := s.repo.Replace(ctx, reg)
	s.Require().NoError(err)
	s.True(ok)
	s.EqualValues(1, reg.Version)

	now := time.Now()
	paid, err := s.repo.Transition(ctx, "conf-2026", "r1", []models.RegistrationStatus{models.StatusPendingPayment}, models.StatusPaid, &now)
	s.Require().NoError(err)
	s.Equal(models.StatusPaid, paid.Status)
	s.Equal(models.StatusPaid, paid.PaymentStatus)
	s.NotNil(paid.PaidAt)

	again := s.pending("r1", "order-1")
	ok, err = s.repo.Replace(ctx, again)
	s.Require().NoError(err)
	s.False(ok)

	stored, err := s.repo.GetByID(ctx, "conf-2026", "r1")
	s.Require().NoError(err)
	s.Equal(models.StatusPaid, stored.Status)
}

func (s *RepositorySuite) TestReplaceRejectsReusedOrderID() {
	ctx := context.Background()
	_, err := s.repo.Replace(ctx, s.pending("r1", "order-1"))
	s.Require().NoError(err)

	_, err = s.repo.Replace(ctx, s.pending("r2", "order-1"))
	s.True(errors.Is(err, apperrors.ErrConflict))
}

func (s *RepositorySuite) TestTransitionGuardHasOneWinner() {
	ctx := context.Background()
	_, err := s.repo.Replace(ctx, s.pending("r1", "order-1"))
	s.Require().NoError(err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		stale   int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now()
			_, err := s.repo.Transition(ctx, "conf-2026", "r1", []models.RegistrationStatus{models.StatusPendingPayment}, models.StatusPaid, &now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, apperrors.ErrStaleState):
				stale++
			}
		}()
	}
	wg.Wait()
	s.Equal(1, winners)
	s.Equal(7, stale)
}

func (s *RepositorySuite) TestClaimMemberLockOnce() {
	ctx := context.Background()
	_, err := s.repo.Replace(ctx, s.pending("r1", "order-1"))
	s.Require().NoError(err)

	first, err := s.repo.ClaimMemberLock(ctx, "conf-2026", "r1")
	s.Require().NoError(err)
	second, err := s.repo.ClaimMemberLock(ctx, "conf-2026", "r1")
	s.Require().NoError(err)
	s.True(first)
	s.False(second)
}

func (s *RepositorySuite) TestCheckInRequiresPaid() {
	ctx := context.Background()
	_, err := s.repo.Replace(ctx, s.pending("r1", "order-1"))
	s.Require().NoError(err)

	_, err = s.repo.CheckIn(ctx, "conf-2026", "r1", "conf-2026:r1", "admin", time.Now())
	s.True(errors.Is(err, apperrors.ErrInvalidState))

	_, err = s.repo.CheckIn(ctx, "conf-2026", "missing", "", "admin", time.Now())
	s.True(errors.Is(err, apperrors.ErrNotFound))

	now := time.Now()
	_, err = s.repo.Transition(ctx, "conf-2026", "r1", []models.RegistrationStatus{models.StatusPendingPayment}, models.StatusPaid, &now)
	s.Require().NoError(err)
	reg, err := s.repo.CheckIn(ctx, "conf-2026", "r1", "conf-2026:r1", "admin", now)
	s.Require().NoError(err)
	s.True(reg.IsCheckedIn)
	s.True(reg.BadgeIssued)

	var n int
	s.Require().NoError(s.pg.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM attendance_logs WHERE registration_id = 'r1'`).Scan(&n))
	s.Equal(1, n)
}

func (s *RepositorySuite) TestDelete() {
	ctx := context.Background()
	_, err := s.repo.Replace(ctx, s.pending("r1", "order-1"))
	s.Require().NoError(err)
	s.Require().NoError(s.repo.AppendLog(ctx, &models.RegistrationLog{ConferenceID: "conf-2026", RegistrationID: "r1", Action: models.LogActionConfirmed}))

	s.Require().NoError(s.repo.Delete(ctx, "conf-2026", "r1"))
	_, err = s.repo.GetByID(ctx, "conf-2026", "r1")
	s.True(errors.Is(err, apperrors.ErrNotFound))
	s.True(errors.Is(s.repo.Delete(ctx, "conf-2026", "r1"), apperrors.ErrNotFound))
}
