// Package logging は全サービスで共通して使用する構造化ロガーを提供する。
//
// go.uber.org/zap をベースに、本番環境向けのJSON出力と
// 開発環境向けのコンソール出力を切り替えられるようにする。
package logging
