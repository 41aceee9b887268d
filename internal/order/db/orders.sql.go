package db

import (
	"context"
	"time"
)

const orderColumns = `id, user_id, status, total_amount, created_at, updated_at`

// scanOrder は1行をOrderに読み込む。
func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

const createOrder = `INSERT INTO orders (` + orderColumns + `) VALUES (?, ?, ?, ?, ?, ?)`

// CreateOrder は注文を作成する。
func (q *Queries) CreateOrder(ctx context.Context, o Order) error {
	_, err := q.db.ExecContext(ctx, createOrder, o.ID, o.UserID, o.Status, o.TotalAmount, o.CreatedAt, o.UpdatedAt)
	return err
}

const createOrderItem = `
INSERT INTO order_items (id, order_id, book_id, book_title, quantity, price_at_purchase, subtotal, position)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

// CreateOrderItem は注文明細を作成する。
func (q *Queries) CreateOrderItem(ctx context.Context, i OrderItem) error {
	_, err := q.db.ExecContext(ctx, createOrderItem,
		i.ID,
		i.OrderID,
		i.BookID,
		i.BookTitle,
		i.Quantity,
		i.PriceAtPurchase,
		i.Subtotal,
		i.Position,
	)
	return err
}

const getOrder = `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

// GetOrder はIDで注文を取得する。
func (q *Queries) GetOrder(ctx context.Context, id string) (Order, error) {
	return scanOrder(q.db.QueryRowContext(ctx, getOrder, id))
}

const listOrderItems = `
SELECT id, order_id, book_id, book_title, quantity, price_at_purchase, subtotal, position
FROM order_items
WHERE order_id = ?
ORDER BY position
`

// ListOrderItems は注文の明細を並び順で返す。
func (q *Queries) ListOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := q.db.QueryContext(ctx, listOrderItems, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var i OrderItem
		if err := rows.Scan(
			&i.ID,
			&i.OrderID,
			&i.BookID,
			&i.BookTitle,
			&i.Quantity,
			&i.PriceAtPurchase,
			&i.Subtotal,
			&i.Position,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const countOrdersByUser = `
SELECT COUNT(*) FROM orders
WHERE user_id = ? AND (? = '' OR status = ?)
`

// CountOrdersByUserParams はCountOrdersByUserの引数。
type CountOrdersByUserParams struct {
	UserID string
	// Status が空の場合は全ステータスを数える。
	Status string
}

// CountOrdersByUser はユーザーの注文数を返す。
func (q *Queries) CountOrdersByUser(ctx context.Context, arg CountOrdersByUserParams) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countOrdersByUser, arg.UserID, arg.Status, arg.Status).Scan(&n)
	return n, err
}

const listOrdersByUser = `
SELECT ` + orderColumns + ` FROM orders
WHERE user_id = ? AND (? = '' OR status = ?)
ORDER BY created_at DESC, id
LIMIT ? OFFSET ?
`

// ListOrdersByUserParams はListOrdersByUserの引数。
type ListOrdersByUserParams struct {
	UserID string
	// Status が空の場合は全ステータスを返す。
	Status string
	Limit  int
	Offset int
}

// ListOrdersByUser はユーザーの注文を新しい順に返す。
func (q *Queries) ListOrdersByUser(ctx context.Context, arg ListOrdersByUserParams) ([]Order, error) {
	rows, err := q.db.QueryContext(ctx, listOrdersByUser, arg.UserID, arg.Status, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

const updateOrderStatus = `
UPDATE orders SET status = ?, updated_at = ?
WHERE id = ? AND status = ?
`

// UpdateOrderStatusParams はUpdateOrderStatusの引数。
type UpdateOrderStatusParams struct {
	ID string
	// From は更新前に期待するステータス。異なる場合は更新しない。
	From      string
	To        string
	UpdatedAt time.Time
}

// UpdateOrderStatus はステータスがFromの場合だけToに更新し、更新した件数を返す。
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateOrderStatus, arg.To, arg.UpdatedAt, arg.ID, arg.From)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getOrderStats = `
SELECT
    COUNT(*),
    COALESCE(SUM(CASE WHEN o.status != 'cancelled' THEN o.total_amount ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN o.status != 'cancelled' THEN (
        SELECT COALESCE(SUM(i.quantity), 0) FROM order_items i WHERE i.order_id = o.id
    ) ELSE 0 END), 0)
FROM orders o
WHERE o.user_id = ?
`

// GetOrderStats はユーザーの注文を集計する。キャンセルした注文は金額と冊数に含めない。
func (q *Queries) GetOrderStats(ctx context.Context, userID string) (OrderStats, error) {
	var s OrderStats
	err := q.db.QueryRowContext(ctx, getOrderStats, userID).Scan(&s.TotalOrders, &s.TotalSpent, &s.TotalBooksPurchased)
	return s, err
}

const countOrdersByStatus = `
SELECT status, COUNT(*) FROM orders
WHERE user_id = ?
GROUP BY status
ORDER BY status
`

// CountOrdersByStatus はユーザーの注文数をステータスごとに返す。
func (q *Queries) CountOrdersByStatus(ctx context.Context, userID string) ([]StatusCount, error) {
	rows, err := q.db.QueryContext(ctx, countOrdersByStatus, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
