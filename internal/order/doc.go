// Package order は注文サービスを提供する。
//
// 注文の作成時は、カタログサービスから価格と書名を取得し、在庫増減APIで在庫を引き当てる。
// 引き当ての途中で失敗した場合は、引き当て済みの在庫を逆順に戻してから注文を失敗させる。
// 注文のキャンセル時も同じ手順で在庫を戻す。在庫を戻す処理はベストエフォートで、
// 失敗はログとStockCompensatedイベントに記録する。
package order
