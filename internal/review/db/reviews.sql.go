package db

import (
	"context"
	"fmt"
	"strings"
)

const reviewColumns = `id, book_id, user_id, username, rating, title, comment, created_at, updated_at`

// scanReview は1行をReviewに読み込む。
func scanReview(row interface{ Scan(...any) error }) (Review, error) {
	var r Review
	err := row.Scan(
		&r.ID,
		&r.BookID,
		&r.UserID,
		&r.Username,
		&r.Rating,
		&r.Title,
		&r.Comment,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

const createReview = `INSERT INTO reviews (` + reviewColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateReview はレビューを作成する。
func (q *Queries) CreateReview(ctx context.Context, r Review) error {
	_, err := q.db.ExecContext(ctx, createReview,
		r.ID,
		r.BookID,
		r.UserID,
		r.Username,
		r.Rating,
		r.Title,
		r.Comment,
		r.CreatedAt,
		r.UpdatedAt,
	)
	return err
}

const getReview = `SELECT ` + reviewColumns + ` FROM reviews WHERE id = ?`

// GetReview はIDでレビューを取得する。
func (q *Queries) GetReview(ctx context.Context, id string) (Review, error) {
	return scanReview(q.db.QueryRowContext(ctx, getReview, id))
}

const existsReview = `SELECT EXISTS (SELECT 1 FROM reviews WHERE book_id = ? AND user_id = ?)`

// ExistsReview はユーザーが書籍をレビュー済みかどうかを返す。
func (q *Queries) ExistsReview(ctx context.Context, bookID, userID string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, existsReview, bookID, userID).Scan(&exists)
	return exists, err
}

const updateReview = `
UPDATE reviews SET rating = ?, title = ?, comment = ?, updated_at = ?
WHERE id = ?
`

// UpdateReview はレビューの評価、見出し、本文を更新する。
func (q *Queries) UpdateReview(ctx context.Context, r Review) error {
	_, err := q.db.ExecContext(ctx, updateReview, r.Rating, r.Title, r.Comment, r.UpdatedAt, r.ID)
	return err
}

const deleteReview = `DELETE FROM reviews WHERE id = ?`

// DeleteReview はレビューを削除し、削除した件数を返す。
func (q *Queries) DeleteReview(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteReview, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SortColumn は一覧の並び替えに使用できる列。
type SortColumn string

const (
	// SortByCreatedAt は投稿日時順。
	SortByCreatedAt SortColumn = "created_at"
	// SortByRating は評価順。
	SortByRating SortColumn = "rating"
)

// ReviewFilter はレビュー一覧の絞り込み条件。空の項目は条件にしない。
type ReviewFilter struct {
	// BookID は書籍ID。
	BookID string
	// UserID は投稿者のユーザーID。
	UserID string
	// Rating は評価。0の場合は条件にしない。
	Rating int64
}

// where はWHERE句と引数を組み立てる。
func (f ReviewFilter) where() (string, []any) {
	var conds []string
	var args []any

	if f.BookID != "" {
		conds = append(conds, "book_id = ?")
		args = append(args, f.BookID)
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Rating != 0 {
		conds = append(conds, "rating = ?")
		args = append(args, f.Rating)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// CountReviews は条件に一致するレビュー数を返す。
func (q *Queries) CountReviews(ctx context.Context, f ReviewFilter) (int64, error) {
	where, args := f.where()
	var n int64
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reviews"+where, args...).Scan(&n)
	return n, err
}

// ListReviewsParams はListReviewsの引数。
type ListReviewsParams struct {
	Filter ReviewFilter
	SortBy SortColumn
	Desc   bool
	Limit  int
	Offset int
}

// ListReviews は条件に一致するレビューを並び替えて返す。
func (q *Queries) ListReviews(ctx context.Context, arg ListReviewsParams) ([]Review, error) {
	switch arg.SortBy {
	case SortByCreatedAt, SortByRating:
	default:
		return nil, fmt.Errorf("並び替えできない列です: %q", arg.SortBy)
	}
	order := "ASC"
	if arg.Desc {
		order = "DESC"
	}

	where, args := arg.Filter.where()
	query := "SELECT " + reviewColumns + " FROM reviews" + where +
		fmt.Sprintf(" ORDER BY %s %s, id ASC LIMIT ? OFFSET ?", arg.SortBy, order)
	args = append(args, arg.Limit, arg.Offset)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const averageRating = `SELECT COALESCE(AVG(rating), 0) FROM reviews WHERE book_id = ?`

// AverageRating は書籍の平均評価を返す。レビューがない場合は0。
func (q *Queries) AverageRating(ctx context.Context, bookID string) (float64, error) {
	var avg float64
	err := q.db.QueryRowContext(ctx, averageRating, bookID).Scan(&avg)
	return avg, err
}

const ratingDistribution = `
SELECT rating, COUNT(*) FROM reviews
WHERE book_id = ?
GROUP BY rating
ORDER BY rating
`

// RatingDistribution は書籍の評価ごとのレビュー数を返す。レビューのない評価は含まない。
func (q *Queries) RatingDistribution(ctx context.Context, bookID string) ([]RatingCount, error) {
	rows, err := q.db.QueryContext(ctx, ratingDistribution, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []RatingCount
	for rows.Next() {
		var c RatingCount
		if err := rows.Scan(&c.Rating, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
