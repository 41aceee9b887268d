// Package middleware はbookhubの各サービスが共有するGinミドルウェア。
//
// Verifier はアクセストークンの検証規則を一か所にまとめたもので、ゲートウェイの
// 呼び出し元分類とバックエンドの JWTAuth が同じものを使う。Signer は認証サービスが
// トークンを発行するときに使う。RequestID、Logging、Recovery、CORS は全サービスの
// ルーターの先頭に並ぶ。
package middleware
