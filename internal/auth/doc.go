// Package auth は認証サービスを提供する。
//
// ユーザー登録、ログイン、アクセストークンの再発行、ログアウト、
// ログイン中のユーザー情報の取得を担当する。アクセストークンは共有秘密鍵で署名し、
// ゲートウェイと各サービスは同じ秘密鍵で検証する。
package auth
