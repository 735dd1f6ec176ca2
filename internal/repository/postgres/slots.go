package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
)

const providerColumns = `id, email, company_name, street, zip, city, monthly_publish_limit, booking_fee, created_at`

func scanProvider(row pgx.Row) (*model.Provider, error) {
	var (
		p   model.Provider
		fee decimal.NullDecimal
	)
	if err := row.Scan(&p.ID, &p.Email, &p.CompanyName, &p.Street, &p.Zip, &p.City,
		&p.MonthlyPublishLimit, &fee, &p.CreatedAt); err != nil {
		return nil, err
	}
	if fee.Valid {
		p.BookingFee = &fee.Decimal
	}
	return &p, nil
}

func (t *txn) CreateProvider(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var fee decimal.NullDecimal
	if p.BookingFee != nil {
		fee = decimal.NewNullDecimal(*p.BookingFee)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO provider (`+providerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Email, p.CompanyName, p.Street, p.Zip, p.City, p.MonthlyPublishLimit, fee, p.CreatedAt,
	)
	return wrap("insert provider", err)
}

func (t *txn) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	p, err := scanProvider(t.tx.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM provider WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get provider", err)
	}
	return p, nil
}

const slotColumns = `id, provider_id, title, category, status, capacity, start_at, end_at, zip, city, location, published_at, created_at`

func scanSlot(row pgx.Row) (*model.Slot, error) {
	var s model.Slot
	if err := row.Scan(&s.ID, &s.ProviderID, &s.Title, &s.Category, &s.Status, &s.Capacity,
		&s.StartAt, &s.EndAt, &s.Zip, &s.City, &s.Location, &s.PublishedAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *txn) CreateSlot(ctx context.Context, s *model.Slot) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO slot (`+slotColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.ProviderID, s.Title, s.Category, s.Status, s.Capacity, s.StartAt, s.EndAt,
		s.Zip, s.City, s.Location, s.PublishedAt, s.CreatedAt,
	)
	return wrap("insert slot", err)
}

func (t *txn) GetSlot(ctx context.Context, id string) (*model.Slot, error) {
	s, err := scanSlot(t.tx.QueryRow(ctx, `SELECT `+slotColumns+` FROM slot WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get slot", err)
	}
	return s, nil
}

// LockSlot acquires an exclusive row-level lock on the slot. Concurrent
// lockers of the same row block until this transaction ends.
func (t *txn) LockSlot(ctx context.Context, id string) (*model.Slot, error) {
	s, err := scanSlot(t.tx.QueryRow(ctx,
		`SELECT `+slotColumns+` FROM slot WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, wrap("lock slot row", err)
	}
	return s, nil
}

func (t *txn) ListSlots(ctx context.Context, f repository.SlotFilter) ([]model.Slot, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ProviderID != "" {
		add("provider_id = $%d", f.ProviderID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Category != "" {
		add("lower(category) = lower($%d)", f.Category)
	}
	if f.Zip != "" {
		add("zip = $%d", f.Zip)
	}
	if !f.StartFrom.IsZero() {
		add("start_at >= $%d", f.StartFrom)
	}

	q := `SELECT ` + slotColumns + ` FROM slot`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY start_at ASC`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, wrap("list slots", err)
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, wrap("scan slot", err)
		}
		slots = append(slots, *s)
	}
	return slots, wrap("list slots", rows.Err())
}

func (t *txn) UpdateSlotStatus(ctx context.Context, id string, status model.SlotStatus, publishedAt *time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE slot SET status = $2, published_at = $3 WHERE id = $1`,
		id, status, publishedAt,
	)
	if err != nil {
		return wrap("update slot status", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *txn) UpdateSlot(ctx context.Context, s *model.Slot) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE slot SET title = $2, category = $3, capacity = $4, start_at = $5, end_at = $6,
		   zip = $7, city = $8, location = $9
		 WHERE id = $1`,
		s.ID, s.Title, s.Category, s.Capacity, s.StartAt, s.EndAt, s.Zip, s.City, s.Location,
	)
	if err != nil {
		return wrap("update slot", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *txn) DeleteSlot(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM slot WHERE id = $1`, id)
	if err != nil {
		return wrap("delete slot", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SumPublishedCapacity runs inside a savepoint so that a failed attempt can
// be rolled back without aborting the outer transaction.
func (t *txn) SumPublishedCapacity(ctx context.Context, providerID string, from, to time.Time) (int, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return 0, wrap("begin resync savepoint", err)
	}

	var total int
	err = sp.QueryRow(ctx,
		`SELECT COALESCE(SUM(capacity), 0)
		 FROM slot
		 WHERE provider_id = $1 AND status = $2 AND start_at >= $3 AND start_at < $4`,
		providerID, model.SlotPublished, from, to,
	).Scan(&total)
	if err != nil {
		_ = sp.Rollback(ctx)
		return 0, wrap("sum published capacity", err)
	}
	if err := sp.Commit(ctx); err != nil {
		return 0, wrap("release resync savepoint", err)
	}
	return total, nil
}
