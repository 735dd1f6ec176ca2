package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
)

const subscriptionColumns = `id, email, zip, city, lat, lon, radius_km, categories, via_email, via_sms, phone,
	active, email_confirmed, deleted_at, email_sent_total, sms_sent_this_month, sms_quota_month, sms_month,
	notification_limit, verify_token, manage_key, last_notified_at, created_at`

func scanSubscription(row pgx.Row) (*model.AlertSubscription, error) {
	var a model.AlertSubscription
	if err := row.Scan(&a.ID, &a.Email, &a.Zip, &a.City, &a.Lat, &a.Lon, &a.RadiusKm, &a.Categories,
		&a.ViaEmail, &a.ViaSMS, &a.Phone, &a.Active, &a.EmailConfirmed, &a.DeletedAt,
		&a.EmailSentTotal, &a.SMSSentThisMonth, &a.SMSQuotaMonth, &a.SMSMonth,
		&a.NotificationLimit, &a.VerifyToken, &a.ManageKey, &a.LastNotifiedAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *txn) CreateSubscription(ctx context.Context, a *model.AlertSubscription) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Categories == nil {
		a.Categories = []string{}
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO alert_subscription (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		         $19, $20, $21, $22, $23)`,
		a.ID, a.Email, a.Zip, a.City, a.Lat, a.Lon, a.RadiusKm, a.Categories, a.ViaEmail, a.ViaSMS,
		a.Phone, a.Active, a.EmailConfirmed, a.DeletedAt, a.EmailSentTotal, a.SMSSentThisMonth,
		a.SMSQuotaMonth, a.SMSMonth, a.NotificationLimit, a.VerifyToken, a.ManageKey,
		a.LastNotifiedAt, a.CreatedAt,
	)
	return wrap("insert subscription", err)
}

func (t *txn) getSubscription(ctx context.Context, op, cond string, arg any) (*model.AlertSubscription, error) {
	a, err := scanSubscription(t.tx.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM alert_subscription WHERE `+cond, arg))
	if err != nil {
		return nil, wrap(op, err)
	}
	return a, nil
}

func (t *txn) GetSubscriptionByVerifyToken(ctx context.Context, token string) (*model.AlertSubscription, error) {
	return t.getSubscription(ctx, "get subscription by verify token", `verify_token = $1`, token)
}

func (t *txn) GetSubscriptionByManageKey(ctx context.Context, key string) (*model.AlertSubscription, error) {
	return t.getSubscription(ctx, "get subscription by manage key", `manage_key = $1`, key)
}

func (t *txn) LockSubscription(ctx context.Context, id string) (*model.AlertSubscription, error) {
	return t.getSubscription(ctx, "lock subscription row", `id = $1 FOR UPDATE`, id)
}

func (t *txn) UpdateSubscription(ctx context.Context, a *model.AlertSubscription) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE alert_subscription SET
		   lat = $2, lon = $3, active = $4, email_confirmed = $5, deleted_at = $6,
		   email_sent_total = $7, sms_sent_this_month = $8, sms_quota_month = $9, sms_month = $10,
		   notification_limit = $11, last_notified_at = $12
		 WHERE id = $1`,
		a.ID, a.Lat, a.Lon, a.Active, a.EmailConfirmed, a.DeletedAt, a.EmailSentTotal,
		a.SMSSentThisMonth, a.SMSQuotaMonth, a.SMSMonth, a.NotificationLimit, a.LastNotifiedAt,
	)
	if err != nil {
		return wrap("update subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *txn) ListAlertCandidates(ctx context.Context) ([]model.AlertSubscription, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM alert_subscription
		 WHERE active AND email_confirmed AND deleted_at IS NULL
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, wrap("list alert candidates", err)
	}
	defer rows.Close()

	var out []model.AlertSubscription
	for rows.Next() {
		a, err := scanSubscription(rows)
		if err != nil {
			return nil, wrap("scan subscription", err)
		}
		out = append(out, *a)
	}
	return out, wrap("list alert candidates", rows.Err())
}

// LockSubscriptionEmail takes a transaction-scoped advisory lock keyed by
// the lower-cased email. There is no per-email row to lock with FOR UPDATE,
// and the count must not race the following insert.
func (t *txn) LockSubscriptionEmail(ctx context.Context, email string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext(lower($1)))`, email)
	return wrap("lock subscription email", err)
}

func (t *txn) SubscriptionUsage(ctx context.Context, email string) (int, int, error) {
	var used, limit int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(MAX(notification_limit), 0)
		 FROM alert_subscription
		 WHERE lower(email) = lower($1)`,
		email,
	).Scan(&used, &limit)
	if err != nil {
		return 0, 0, wrap("subscription usage", err)
	}
	return used, limit, nil
}
