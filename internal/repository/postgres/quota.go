package postgres

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
)

func (t *txn) EnsureQuota(ctx context.Context, providerID string, month time.Time, limit int) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO publish_quota (provider_id, month, used, "limit")
		 VALUES ($1, $2, 0, $3)
		 ON CONFLICT (provider_id, month) DO NOTHING`,
		providerID, month, limit,
	)
	return wrap("ensure quota row", err)
}

// LockQuota takes the exclusive lock on the (provider, month) row. Two
// publishes for the same provider and month serialize here: the second one
// reads the row only after the first has committed its increment.
func (t *txn) LockQuota(ctx context.Context, providerID string, month time.Time) (*model.PublishQuota, error) {
	q := model.PublishQuota{}
	err := t.tx.QueryRow(ctx,
		`SELECT provider_id, month, used, "limit"
		 FROM publish_quota
		 WHERE provider_id = $1 AND month = $2
		 FOR UPDATE`,
		providerID, month,
	).Scan(&q.ProviderID, &q.Month, &q.Used, &q.Limit)
	if err != nil {
		return nil, wrap("lock quota row", err)
	}
	return &q, nil
}

func (t *txn) GetQuota(ctx context.Context, providerID string, month time.Time) (*model.PublishQuota, error) {
	q := model.PublishQuota{}
	err := t.tx.QueryRow(ctx,
		`SELECT provider_id, month, used, "limit"
		 FROM publish_quota
		 WHERE provider_id = $1 AND month = $2`,
		providerID, month,
	).Scan(&q.ProviderID, &q.Month, &q.Used, &q.Limit)
	if err != nil {
		return nil, wrap("get quota row", err)
	}
	return &q, nil
}

func (t *txn) UpdateQuota(ctx context.Context, q *model.PublishQuota) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE publish_quota SET used = $3, "limit" = $4
		 WHERE provider_id = $1 AND month = $2`,
		q.ProviderID, q.Month, q.Used, q.Limit,
	)
	if err != nil {
		return wrap("update quota row", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
