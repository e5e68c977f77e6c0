// Package integrity re-validates every write to registrations and member codes and files
// alerts for rule violations. It observes; it never blocks or reverts a write.
package integrity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/metrics"
)

// Change is one row of the document change outbox.
type Change struct {
	ID         int64
	Collection string
	DocumentID string
	Op         string
	Before     json.RawMessage
	After      json.RawMessage
	CreatedAt  time.Time
	Attempts   int // earlier failed checks of this change
}

// AlertStore persists alerts. Insert reports false when (change_id, rule) already exists.
type AlertStore interface {
	Insert(ctx context.Context, a *models.IntegrityAlert) (bool, error)
}

// Publisher pushes new alerts to live subscribers.
type Publisher interface {
	PublishAlert(ctx context.Context, a *models.IntegrityAlert) error
}

// Report is an alert raised directly by application code.
type Report struct {
	Rule        string
	Severity    models.AlertSeverity
	Collection  string
	DocumentID  string
	Description string
	// DedupeKey collapses repeated reports of the same event. Empty means always new.
	DedupeKey string
}

// Monitor evaluates changes and stores alerts.
type Monitor struct {
	alerts    AlertStore
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewMonitor creates the integrity monitor. publisher may be nil.
func NewMonitor(alerts AlertStore, publisher Publisher, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{alerts: alerts, publisher: publisher, logger: logger, now: time.Now}
}

// HandleChange runs the rule set for one change. Deletes are not checked.
func (m *Monitor) HandleChange(ctx context.Context, ch Change) error {
	if len(ch.After) == 0 || string(ch.After) == "null" {
		return nil
	}
	var violations []Violation
	switch ch.Collection {
	case models.CollectionRegistrations:
		var before, after *models.Registration
		if err := decodeSnapshots(ch, &before, &after); err != nil {
			return err
		}
		violations = CheckRegistration(before, after)
		ch.DocumentID = after.ConferenceID + "/" + after.ID
	case models.CollectionSocietyMembers:
		var before, after *models.MemberCode
		if err := decodeSnapshots(ch, &before, &after); err != nil {
			return err
		}
		violations = CheckMemberCode(before, after)
		ch.DocumentID = after.OrgID + "/" + after.ID
	default:
		m.logger.Debug("change for unwatched collection", zap.String("collection", ch.Collection))
		return nil
	}

	changeID := fmt.Sprintf("change:%d", ch.ID)
	for _, v := range violations {
		if err := m.store(ctx, &models.IntegrityAlert{
			Severity:    v.Severity,
			Rule:        v.Rule,
			Collection:  ch.Collection,
			DocumentID:  ch.DocumentID,
			Description: v.Description,
			ChangeID:    changeID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func decodeSnapshots[T any](ch Change, before, after **T) error {
	*after = new(T)
	if err := json.Unmarshal(ch.After, *after); err != nil {
		return fmt.Errorf("decode %s %s after: %w", ch.Collection, ch.DocumentID, err)
	}
	if len(ch.Before) > 0 && string(ch.Before) != "null" {
		*before = new(T)
		if err := json.Unmarshal(ch.Before, *before); err != nil {
			return fmt.Errorf("decode %s %s before: %w", ch.Collection, ch.DocumentID, err)
		}
	}
	return nil
}

// Report files an alert on behalf of application code.
func (m *Monitor) Report(ctx context.Context, r Report) error {
	key := r.DedupeKey
	if key == "" {
		key = "report:" + uuid.NewString()
	}
	return m.store(ctx, &models.IntegrityAlert{
		Severity:    r.Severity,
		Rule:        r.Rule,
		Collection:  r.Collection,
		DocumentID:  r.DocumentID,
		Description: r.Description,
		ChangeID:    key,
	})
}

func (m *Monitor) store(ctx context.Context, a *models.IntegrityAlert) error {
	now := m.now().UTC()
	a.ID = uuid.New()
	a.AlertDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	a.CreatedAt = now
	inserted, err := m.alerts.Insert(ctx, a)
	if err != nil {
		return fmt.Errorf("store alert %s: %w", a.Rule, err)
	}
	if !inserted {
		return nil
	}
	metrics.IntegrityAlerts.WithLabelValues(a.Rule, string(a.Severity)).Inc()
	m.logger.Warn("integrity alert",
		zap.String("rule", a.Rule),
		zap.String("severity", string(a.Severity)),
		zap.String("collection", a.Collection),
		zap.String("document_id", a.DocumentID),
		zap.String("description", a.Description),
	)
	if m.publisher != nil {
		if err := m.publisher.PublishAlert(ctx, a); err != nil {
			m.logger.Warn("publish alert failed", zap.String("alert_id", a.ID.String()), zap.Error(err))
		}
	}
	return nil
}
