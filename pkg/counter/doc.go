// Package counter は期限付きカウンタを保持する外部ストアのクライアントを提供する。
//
// API Gatewayのクォータ台帳として使用する。カウンタのインクリメントと
// 有効期限の設定はRedis上のLuaスクリプトで1回のアトミックな操作として実行するため、
// 複数のゲートウェイインスタンスから同じキーを同時に更新しても数え漏れは発生しない。
// このパッケージはカウンタ以外のビジネスロジックを持たない。
package counter
