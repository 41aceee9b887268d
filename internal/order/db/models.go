package db

import "time"

// Order はordersテーブルの行。
type Order struct {
	ID          string
	UserID      string
	Status      string
	TotalAmount float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderItem はorder_itemsテーブルの行。
type OrderItem struct {
	ID              string
	OrderID         string
	BookID          string
	BookTitle       string
	Quantity        int64
	PriceAtPurchase float64
	Subtotal        float64
	Position        int64
}

// OrderStats はユーザーの注文の集計。
type OrderStats struct {
	TotalOrders         int64
	TotalSpent          float64
	TotalBooksPurchased int64
}

// StatusCount はステータスごとの注文数。
type StatusCount struct {
	Status string
	Count  int64
}
