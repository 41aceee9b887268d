// Package event はbookhubのドメインイベントと、その配信を提供する。
//
// イベントはユーザー登録、注文、レビュー投稿などの状態変更を通知するために使う。
// 配信はベストエフォートであり、配信に失敗しても元の操作は失敗させない。
// 失敗はログに記録する。購読側はイベントの欠落を前提に設計する必要がある。
package event
