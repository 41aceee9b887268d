package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeUser はユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
	// AggregateTypeBook は書籍エンティティを表す。
	AggregateTypeBook AggregateType = "Book"
	// AggregateTypeOrder は注文エンティティを表す。
	AggregateTypeOrder AggregateType = "Order"
	// AggregateTypeReview はレビューエンティティを表す。
	AggregateTypeReview AggregateType = "Review"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeUserRegistered はユーザーが登録されたことを表す。
	TypeUserRegistered Type = "UserRegistered"

	// TypeOrderPlaced は注文が作成されたことを表す。
	TypeOrderPlaced Type = "OrderPlaced"
	// TypeOrderCancelled は注文がキャンセルされたことを表す。
	TypeOrderCancelled Type = "OrderCancelled"
	// TypeOrderStatusChanged は注文のステータスが変更されたことを表す。
	TypeOrderStatusChanged Type = "OrderStatusChanged"

	// TypeStockCompensated は注文の失敗により在庫の引き当てが取り消されたことを表す。
	TypeStockCompensated Type = "StockCompensated"

	// TypeReviewPosted はレビューが投稿されたことを表す。
	TypeReviewPosted Type = "ReviewPosted"
)

// Event は状態変更を通知するイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// UserRegisteredData はUserRegisteredイベントのデータ。
type UserRegisteredData struct {
	// Email は登録されたメールアドレス。
	Email string `json:"email"`
	// Username はユーザー名。
	Username string `json:"username"`
	// IsAdmin は管理者として登録されたかどうか。
	IsAdmin bool `json:"is_admin"`
}

// OrderItemData は注文明細。
type OrderItemData struct {
	BookID   string  `json:"book_id"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
}

// OrderPlacedData はOrderPlacedイベントのデータ。
type OrderPlacedData struct {
	// UserID は注文したユーザーのID。
	UserID string `json:"user_id"`
	// TotalAmount は注文の合計金額。
	TotalAmount float64 `json:"total_amount"`
	// Items は注文明細。
	Items []OrderItemData `json:"items"`
}

// OrderCancelledData はOrderCancelledイベントのデータ。
type OrderCancelledData struct {
	// UserID はキャンセルしたユーザーのID。
	UserID string `json:"user_id"`
}

// OrderStatusChangedData はOrderStatusChangedイベントのデータ。
type OrderStatusChangedData struct {
	// From は変更前のステータス。
	From string `json:"from"`
	// To は変更後のステータス。
	To string `json:"to"`
}

// StockCompensatedData はStockCompensatedイベントのデータ。
type StockCompensatedData struct {
	// Quantity は戻した在庫数。
	Quantity int64 `json:"quantity"`
	// Reason は取り消しの理由。
	Reason string `json:"reason"`
	// Succeeded は在庫を戻せたかどうか。
	Succeeded bool `json:"succeeded"`
}

// ReviewPostedData はReviewPostedイベントのデータ。
type ReviewPostedData struct {
	// BookID はレビュー対象の書籍ID。
	BookID string `json:"book_id"`
	// UserID は投稿したユーザーのID。
	UserID string `json:"user_id"`
	// Rating は評価（1〜5）。
	Rating int64 `json:"rating"`
}
