package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
)

const bookingColumns = `id, slot_id, provider_id, customer_name, customer_email, status, fee, created_at, confirmed_at, canceled_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	if err := row.Scan(&b.ID, &b.SlotID, &b.ProviderID, &b.CustomerName, &b.CustomerEmail,
		&b.Status, &b.Fee, &b.CreatedAt, &b.ConfirmedAt, &b.CanceledAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *txn) CreateBooking(ctx context.Context, b *model.Booking) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO booking (`+bookingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.SlotID, b.ProviderID, b.CustomerName, b.CustomerEmail, b.Status, b.Fee,
		b.CreatedAt, b.ConfirmedAt, b.CanceledAt,
	)
	return wrap("insert booking", err)
}

func (t *txn) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM booking WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get booking", err)
	}
	return b, nil
}

func (t *txn) LockBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM booking WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, wrap("lock booking row", err)
	}
	return b, nil
}

// UpdateBooking writes the mutable columns. The fee snapshot is never updated.
func (t *txn) UpdateBooking(ctx context.Context, b *model.Booking) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE booking SET status = $2, confirmed_at = $3, canceled_at = $4 WHERE id = $1`,
		b.ID, b.Status, b.ConfirmedAt, b.CanceledAt,
	)
	if err != nil {
		return wrap("update booking", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *txn) CountActiveBookings(ctx context.Context, slotID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM booking WHERE slot_id = $1 AND status = ANY($2)`,
		slotID, []string{string(model.BookingHold), string(model.BookingConfirmed)},
	).Scan(&n)
	if err != nil {
		return 0, wrap("count active bookings", err)
	}
	return n, nil
}

func (t *txn) CountBookings(ctx context.Context, slotID string) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM booking WHERE slot_id = $1`, slotID).Scan(&n); err != nil {
		return 0, wrap("count bookings", err)
	}
	return n, nil
}

func (t *txn) ExpireHolds(ctx context.Context, slotID string, cutoff, canceledAt time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE booking SET status = $2, canceled_at = $4
		 WHERE slot_id = $1 AND status = $3 AND created_at < $5`,
		slotID, model.BookingCanceled, model.BookingHold, canceledAt, cutoff,
	)
	if err != nil {
		return 0, wrap("expire holds", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *txn) ListBookingsBySlot(ctx context.Context, slotID string) ([]model.Booking, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+bookingColumns+` FROM booking WHERE slot_id = $1 ORDER BY created_at ASC`, slotID)
	if err != nil {
		return nil, wrap("list bookings", err)
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, wrap("scan booking", err)
		}
		out = append(out, *b)
	}
	return out, wrap("list bookings", rows.Err())
}
