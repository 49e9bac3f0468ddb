package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PostgresStore struct{ DB *pgxpool.Pool }

const itemColumns = `id, sku, name, kind, unit, category, variety, color, supplier,
	unit_price, purchase_price, current_qty, reserved_qty, min_level,
	freshness_days, delivery_date, expiry_date, active, notes, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	var minLevel decimal.NullDecimal
	err := row.Scan(&it.ID, &it.SKU, &it.Name, &it.Kind, &it.Unit, &it.Category, &it.Variety, &it.Color, &it.Supplier,
		&it.UnitPrice, &it.PurchasePrice, &it.Current, &it.Reserved, &minLevel,
		&it.FreshnessDays, &it.DeliveryDate, &it.ExpiryDate, &it.Active, &it.Notes, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	if minLevel.Valid {
		it.MinLevel = &minLevel.Decimal
	}
	return it, nil
}

func minLevelArg(it Item) decimal.NullDecimal {
	if it.MinLevel == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *it.MinLevel, Valid: true}
}

func (r *PostgresStore) Create(ctx context.Context, it Item) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO stock_items(`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		it.ID, it.SKU, it.Name, it.Kind, it.Unit, it.Category, it.Variety, it.Color, it.Supplier,
		it.UnitPrice, it.PurchasePrice, it.Current, it.Reserved, minLevelArg(it),
		it.FreshnessDays, it.DeliveryDate, it.ExpiryDate, it.Active, it.Notes, it.CreatedAt, it.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateSKU
	}
	return err
}

func (r *PostgresStore) Get(ctx context.Context, id string) (Item, error) {
	return scanItem(r.DB.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id=$1`, id))
}

func (r *PostgresStore) List(ctx context.Context, f Filter) ([]Item, error) {
	var where []string
	var args []any
	if f.Kind != "" {
		args = append(args, f.Kind)
		where = append(where, "kind = $"+strconv.Itoa(len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "active")
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := strconv.Itoa(len(args))
		where = append(where, "(name ILIKE $"+n+" OR variety ILIKE $"+n+" OR sku ILIKE $"+n+")")
	}
	q := `SELECT ` + itemColumns + ` FROM stock_items`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY sku"

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func lockItem(ctx context.Context, tx pgx.Tx, id string) (Item, error) {
	return scanItem(tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id=$1 FOR UPDATE`, id))
}

func saveItem(ctx context.Context, tx pgx.Tx, it Item) error {
	_, err := tx.Exec(ctx, `
		UPDATE stock_items SET
			name=$2, category=$3, variety=$4, color=$5, supplier=$6,
			unit_price=$7, purchase_price=$8, current_qty=$9, reserved_qty=$10, min_level=$11,
			freshness_days=$12, delivery_date=$13, expiry_date=$14, active=$15, notes=$16, updated_at=$17
		WHERE id=$1`,
		it.ID, it.Name, it.Category, it.Variety, it.Color, it.Supplier,
		it.UnitPrice, it.PurchasePrice, it.Current, it.Reserved, minLevelArg(it),
		it.FreshnessDays, it.DeliveryDate, it.ExpiryDate, it.Active, it.Notes, it.UpdatedAt)
	return err
}

// Update: lock the row (FOR UPDATE) -> apply fn -> write back, all in one tx.
func (r *PostgresStore) Update(ctx context.Context, id string, fn func(*Item) error) (Item, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Item{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := lockItem(ctx, tx, id)
	if err != nil {
		return Item{}, err
	}
	next := cur
	if err := fn(&next); err != nil {
		return cur, err
	}
	if err := next.checkInvariant(); err != nil {
		return cur, err
	}
	next.UpdatedAt = time.Now().UTC()
	if err := saveItem(ctx, tx, next); err != nil {
		return Item{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Item{}, err
	}
	return next, nil
}

// lockOrder serializes reservation bookkeeping for one order within the tx.
func lockOrder(ctx context.Context, tx pgx.Tx, orderID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, orderID)
	return err
}

func queryReservations(ctx context.Context, q interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}, orderID string) ([]Reservation, error) {
	rows, err := q.Query(ctx, `
		SELECT order_id, item_id, qty, status, created_at, updated_at
		FROM stock_reservations WHERE order_id=$1 ORDER BY item_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var x Reservation
		if err := rows.Scan(&x.OrderID, &x.ItemID, &x.Qty, &x.Status, &x.CreatedAt, &x.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

// Reserve locks every item (FOR UPDATE, in item id order), reserves, and records
// the reservation rows. If any line falls short nothing is committed.
func (r *PostgresStore) Reserve(ctx context.Context, orderID string, lines []Line) ([]Reservation, error) {
	merged, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockOrder(ctx, tx, orderID); err != nil {
		return nil, err
	}
	existing, err := queryReservations(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}
	var to ReservationStatus
	err = tx.QueryRow(ctx, `SELECT status FROM stock_order_settlements WHERE order_id=$1`, orderID).Scan(&to)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: order %s was %s", ErrOrderSettled, orderID, strings.ToLower(string(to)))
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, err
	}

	var short []Shortfall
	next := make([]Item, 0, len(merged))
	for _, l := range merged {
		it, err := lockItem(ctx, tx, l.ItemID)
		if err != nil {
			return nil, err
		}
		if !it.Active {
			short = append(short, Shortfall{ItemID: it.ID, Required: l.Qty, Available: it.Available(), Reason: ErrInactive.Error()})
			continue
		}
		sf, err := reserveLine(&it, l)
		if err != nil {
			return nil, err
		}
		if sf != nil {
			short = append(short, *sf)
			continue
		}
		next = append(next, it)
	}
	if len(short) > 0 {
		return nil, &ShortfallError{OrderID: orderID, Details: short} // rollback via defer
	}

	now := time.Now().UTC()
	out := make([]Reservation, 0, len(merged))
	for i, it := range next {
		it.UpdatedAt = now
		if err := saveItem(ctx, tx, it); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_reservations(order_id, item_id, qty, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$5)`, orderID, it.ID, merged[i].Qty, ReservationReserved, now); err != nil {
			return nil, err
		}
		out = append(out, Reservation{OrderID: orderID, ItemID: it.ID, Qty: merged[i].Qty, Status: ReservationReserved, CreatedAt: now, UpdatedAt: now})
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresStore) Settle(ctx context.Context, orderID string, to ReservationStatus) ([]Reservation, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockOrder(ctx, tx, orderID); err != nil {
		return nil, err
	}
	all, err := queryReservations(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var settled []Reservation
	for _, res := range all {
		if res.Status != ReservationReserved {
			continue
		}
		it, err := lockItem(ctx, tx, res.ItemID)
		if err != nil {
			return nil, err
		}
		if err := settleLine(&it, res, to); err != nil {
			return nil, err
		}
		it.UpdatedAt = now
		if err := saveItem(ctx, tx, it); err != nil {
			return nil, err
		}
		res.Status = to
		res.UpdatedAt = now
		settled = append(settled, res)
	}
	if len(settled) == 0 {
		if len(all) > 0 {
			return nil, nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_order_settlements(order_id, status, created_at)
			VALUES ($1,$2,$3) ON CONFLICT (order_id) DO NOTHING`, orderID, to, now); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE stock_reservations SET status=$2, updated_at=$3
		WHERE order_id=$1 AND status=$4`, orderID, to, now, ReservationReserved); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return settled, nil
}

func (r *PostgresStore) Reservations(ctx context.Context, orderID string) ([]Reservation, error) {
	return queryReservations(ctx, r.DB, orderID)
}
