// Package review は書籍レビューサービスを提供する。
//
// 1人のユーザーは1冊につき1件だけレビューを投稿できる。
// 書籍ごとの一覧には平均評価を、サマリーには評価ごとの件数を含める。
package review
