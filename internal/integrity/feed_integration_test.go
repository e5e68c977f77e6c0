//go:build integration

package integrity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-conference/backend/pkg/testutil/containers"
)

// failingHandler rejects every change of one document and records the rest.
type failingHandler struct {
	mu      sync.Mutex
	poison  string
	handled []string
}

func (h *failingHandler) HandleChange(_ context.Context, ch Change) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch.DocumentID == h.poison {
		return errors.New("snapshot does not decode")
	}
	h.handled = append(h.handled, ch.DocumentID)
	return nil
}

func TestChangeFeedParksFailingChange(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()

	insert := func(docID string) {
		_, err := pg.Pool.Exec(ctx, `INSERT INTO document_changes (collection, document_id, op, after)
			VALUES ('registrations', $1, 'UPDATE', '{}'::jsonb)`, docID)
		require.NoError(t, err)
	}
	insert("bad")
	insert("good-1")

	h := &failingHandler{poison: "bad"}
	feed := NewChangeFeed(pg.Pool, h, 1, 2, time.Millisecond, nil)

	n, err := feed.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	var attempts int
	var lastErr string
	require.NoError(t, pg.Pool.QueryRow(ctx, `SELECT attempts, last_error FROM document_changes WHERE document_id = 'bad'`).
		Scan(&attempts, &lastErr))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, "snapshot does not decode", lastErr)

	// The second failure parks the change; later passes reach the rows behind it.
	require.Eventually(t, func() bool {
		if _, err := feed.RunOnce(ctx); err != nil {
			return false
		}
		err := pg.Pool.QueryRow(ctx, `SELECT attempts FROM document_changes WHERE document_id = 'bad'`).Scan(&attempts)
		return err == nil && attempts == 2
	}, 5*time.Second, 20*time.Millisecond)

	insert("good-2")
	var left int
	require.Eventually(t, func() bool {
		if _, err := feed.RunOnce(ctx); err != nil {
			return false
		}
		err := pg.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM document_changes`).Scan(&left)
		return err == nil && left == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"good-1", "good-2"}, h.handled)

	require.NoError(t, pg.Pool.QueryRow(ctx, `SELECT attempts FROM document_changes WHERE document_id = 'bad'`).Scan(&attempts))
	assert.Equal(t, 2, attempts)
}
