// Package httpclient はバックエンドサービス同士がJSONで通信するためのクライアント。
//
// 注文サービスが書籍の取得や在庫の増減でカタログサービスを呼ぶ経路で使う。
// 送信時には otelhttp のトランスポートでトレースを伝播し、コンテキストに
// WithRequestID で載せたリクエストIDを X-Request-ID として引き継ぐ。
// 2xx以外の応答は *StatusError になる。
package httpclient
