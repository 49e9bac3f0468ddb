package orders

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct{ DB *pgxpool.Pool }

const orderColumns = `id, order_number, COALESCE(external_id, ''), status, customer_name, customer_phone,
	customer_email, delivery_address, delivery_date, total_amount, discount_amount, final_amount,
	notes, payment_method, payment_status, assigned_florist_id, created_at, updated_at`

const itemColumns = `id, product_id, product_name, product_sku, product_type, quantity, unit_of_measure,
	unit_price, discount_amount, total_price, notes, bouquet_component, parent_bouquet_id`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ExternalID, &o.Status, &o.CustomerName, &o.CustomerPhone,
		&o.CustomerEmail, &o.DeliveryAddress, &o.DeliveryDate, &o.TotalAmount, &o.DiscountAmount, &o.FinalAmount,
		&o.Notes, &o.PaymentMethod, &o.PaymentStatus, &o.AssignedFloristID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func loadItems(ctx context.Context, q querier, o *Order) error {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id=$1 ORDER BY position`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	o.Items = o.Items[:0]
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.ProductSKU, &it.ProductType, &it.Quantity,
			&it.UnitOfMeasure, &it.UnitPrice, &it.DiscountAmount, &it.TotalPrice, &it.Notes,
			&it.BouquetComponent, &it.ParentBouquetID); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func getOne(ctx context.Context, q querier, where string, arg any) (Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		return Order{}, err
	}
	if err := loadItems(ctx, q, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func insertItems(ctx context.Context, tx pgx.Tx, o Order) error {
	for i, it := range o.Items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, `+itemColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			o.ID, i, it.ID, it.ProductID, it.ProductName, it.ProductSKU, it.ProductType, it.Quantity,
			it.UnitOfMeasure, it.UnitPrice, it.DiscountAmount, it.TotalPrice, it.Notes,
			it.BouquetComponent, it.ParentBouquetID); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts the order and its items in one transaction.
func (r *PostgresStore) Create(ctx context.Context, o Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, order_number, external_id, status, customer_name, customer_phone,
			customer_email, delivery_address, delivery_date, total_amount, discount_amount, final_amount,
			notes, payment_method, payment_status, assigned_florist_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		o.ID, o.OrderNumber, nullable(o.ExternalID), o.Status, o.CustomerName, o.CustomerPhone,
		o.CustomerEmail, o.DeliveryAddress, o.DeliveryDate, o.TotalAmount, o.DiscountAmount, o.FinalAmount,
		o.Notes, o.PaymentMethod, o.PaymentStatus, o.AssignedFloristID, o.CreatedAt, o.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "external_id") {
			return ErrDuplicateExternalID
		}
		return ErrDuplicateNumber
	}
	if err != nil {
		return err
	}
	if err := insertItems(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresStore) Get(ctx context.Context, id string) (Order, error) {
	return getOne(ctx, r.DB, "id=$1", id)
}

func (r *PostgresStore) GetByNumber(ctx context.Context, number string) (Order, error) {
	return getOne(ctx, r.DB, "order_number=$1", number)
}

func (r *PostgresStore) GetByExternalID(ctx context.Context, externalID string) (Order, error) {
	return getOne(ctx, r.DB, "external_id=$1", externalID)
}

func (r *PostgresStore) NumberExists(ctx context.Context, number string) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE order_number=$1)`, number).Scan(&ok)
	return ok, err
}

func (r *PostgresStore) List(ctx context.Context, f Filter) ([]Order, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			ss[i] = string(s)
		}
		where = append(where, "status = ANY("+arg(ss)+")")
	}
	if f.CustomerPhone != "" {
		where = append(where, "customer_phone = "+arg(f.CustomerPhone))
	}
	if f.CustomerEmail != "" {
		where = append(where, "LOWER(customer_email) = LOWER("+arg(f.CustomerEmail)+")")
	}
	if f.FloristID != "" {
		where = append(where, "assigned_florist_id = "+arg(f.FloristID))
	}
	if f.CreatedFrom != nil {
		where = append(where, "created_at >= "+arg(*f.CreatedFrom))
	}
	if f.CreatedTo != nil {
		where = append(where, "created_at <= "+arg(*f.CreatedTo))
	}
	if f.DeliveryDay != nil {
		where = append(where, "(delivery_date AT TIME ZONE 'UTC')::date = "+arg(f.DeliveryDay.UTC().Format("2006-01-02"))+"::date")
	}
	if f.DeliveryBefore != nil {
		where = append(where, "delivery_date < "+arg(*f.DeliveryBefore))
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		p := arg("%" + term + "%")
		where = append(where, "(customer_name ILIKE "+p+" OR order_number ILIKE "+p+")")
	}
	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at, order_number"
	if f.Limit > 0 {
		sql += " LIMIT " + strconv.Itoa(f.Limit)
	}

	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := loadItems(ctx, r.DB, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Update locks the order row (FOR UPDATE), applies fn and rewrites the order
// and its items in the same transaction.
func (r *PostgresStore) Update(ctx context.Context, id string, fn func(*Order) error) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := getOne(ctx, tx, "id=$1 FOR UPDATE", id)
	if err != nil {
		return Order{}, err
	}
	next := cur.clone()
	if err := fn(&next); err != nil {
		return cur, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, customer_name=$3, customer_phone=$4, customer_email=$5,
			delivery_address=$6, delivery_date=$7, total_amount=$8, discount_amount=$9, final_amount=$10,
			notes=$11, payment_method=$12, payment_status=$13, assigned_florist_id=$14, updated_at=$15
		WHERE id=$1`,
		next.ID, next.Status, next.CustomerName, next.CustomerPhone, next.CustomerEmail,
		next.DeliveryAddress, next.DeliveryDate, next.TotalAmount, next.DiscountAmount, next.FinalAmount,
		next.Notes, next.PaymentMethod, next.PaymentStatus, next.AssignedFloristID, next.UpdatedAt); err != nil {
		return Order{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, id); err != nil {
		return Order{}, err
	}
	if err := insertItems(ctx, tx, next); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return next, nil
}

func (r *PostgresStore) Delete(ctx context.Context, id string, check func(Order) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := getOne(ctx, tx, "id=$1 FOR UPDATE", id)
	if err != nil {
		return err
	}
	if err := check(cur); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
