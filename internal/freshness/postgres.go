package freshness

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct{ DB *pgxpool.Pool }

const batchColumns = `id, item_id, batch_number, quantity, delivery_date, expiry_date, days_until_expiry,
	status, discount_percentage, discount_explicit, storage_conditions, temperature_c, humidity_pct,
	sold, sold_date, notes, created_at, updated_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ItemID, &b.BatchNumber, &b.Quantity, &b.DeliveryDate, &b.ExpiryDate, &b.DaysUntilExpiry,
		&b.Status, &b.Discount, &b.DiscountExplicit, &b.StorageConditions, &b.TemperatureC, &b.HumidityPct,
		&b.Sold, &b.SoldDate, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrNotFound
	}
	b.StatusLabel = Label(b.Status)
	return b, err
}

func (r *PostgresStore) Create(ctx context.Context, b Batch) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO freshness_batches(`+batchColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		b.ID, b.ItemID, b.BatchNumber, b.Quantity, b.DeliveryDate, b.ExpiryDate, b.DaysUntilExpiry,
		b.Status, b.Discount, b.DiscountExplicit, b.StorageConditions, b.TemperatureC, b.HumidityPct,
		b.Sold, b.SoldDate, b.Notes, b.CreatedAt, b.UpdatedAt)
	return err
}

func (r *PostgresStore) Get(ctx context.Context, id string) (Batch, error) {
	return scanBatch(r.DB.QueryRow(ctx, `SELECT `+batchColumns+` FROM freshness_batches WHERE id=$1`, id))
}

func (r *PostgresStore) List(ctx context.Context, q Query) ([]Batch, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if q.ItemID != "" {
		where = append(where, "item_id = "+arg(q.ItemID))
	}
	if q.Status != "" {
		where = append(where, "status = "+arg(q.Status))
	}
	if q.BatchNumber != "" {
		where = append(where, "batch_number = "+arg(q.BatchNumber))
	}
	if q.DeliveryDate != nil {
		where = append(where, "delivery_date = "+arg(Date(*q.DeliveryDate)))
	}
	if q.ExpiresBefore != nil {
		where = append(where, "expiry_date < "+arg(Date(*q.ExpiresBefore)))
	}
	if q.UnsoldOnly {
		where = append(where, "NOT sold")
	}
	if q.SoldFrom != nil || q.SoldTo != nil {
		where = append(where, "sold AND sold_date IS NOT NULL")
		if q.SoldFrom != nil {
			where = append(where, "sold_date >= "+arg(Date(*q.SoldFrom)))
		}
		if q.SoldTo != nil {
			where = append(where, "sold_date <= "+arg(Date(*q.SoldTo)))
		}
	}
	sql := `SELECT ` + batchColumns + ` FROM freshness_batches`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY expiry_date NULLS LAST, id"

	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PostgresStore) Update(ctx context.Context, id string, fn func(*Batch) error) (Batch, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Batch{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanBatch(tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM freshness_batches WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Batch{}, err
	}
	next := cur
	if err := fn(&next); err != nil {
		return cur, err
	}
	next.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE freshness_batches SET
			batch_number=$2, quantity=$3, expiry_date=$4, days_until_expiry=$5, status=$6,
			discount_percentage=$7, discount_explicit=$8, storage_conditions=$9, temperature_c=$10,
			humidity_pct=$11, sold=$12, sold_date=$13, notes=$14, updated_at=$15
		WHERE id=$1`,
		next.ID, next.BatchNumber, next.Quantity, next.ExpiryDate, next.DaysUntilExpiry, next.Status,
		next.Discount, next.DiscountExplicit, next.StorageConditions, next.TemperatureC,
		next.HumidityPct, next.Sold, next.SoldDate, next.Notes, next.UpdatedAt); err != nil {
		return Batch{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Batch{}, err
	}
	return next, nil
}

func (r *PostgresStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.DB.Exec(ctx, `DELETE FROM freshness_batches WHERE expiry_date < $1`, Date(cutoff))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
