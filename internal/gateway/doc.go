// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、全リクエストに対して
// 呼び出し元の分類、クラスごとのクォータ判定、サービス名の解決、
// バックエンドへの転送をこの順で行う。
//
// 呼び出し元はBearerトークンの有無とロールによって anonymous、authenticated、
// admin のいずれかに分類される。不正なトークンを提示したリクエストは
// クォータを消費せずに401で終了する。クォータは固定ウィンドウ方式で、
// カウンタはRedis上に保持するため複数インスタンスで共有される。
//
// サービスレジストリとクォータポリシーは起動時に設定から構築し、以降は変更しない。
// リクエスト間で共有する可変状態はカウンタストアのみである。
package gateway
