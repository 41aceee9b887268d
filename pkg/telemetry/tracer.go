// Package telemetry はOpenTelemetryのトレース設定を提供する。
//
// スパンはstdouttraceで書き出す。サービス間の呼び出しはW3C Trace Contextで伝播する。
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

// ShutdownFunc はトレーサーを停止し、未送信のスパンを書き出す。
type ShutdownFunc func(context.Context) error

// InitTracer はサービス名を付与したトレーサープロバイダーを生成し、グローバルに登録する。
// wがnilの場合は標準出力に書き出す。
func InitTracer(serviceName string, w io.Writer, logger *zap.Logger) (ShutdownFunc, error) {
	if w == nil {
		w = os.Stdout
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("トレースエクスポーターの生成に失敗: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("トレースリソースの生成に失敗: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("OpenTelemetryを初期化しました", zap.String("service_name", serviceName))

	return tp.Shutdown, nil
}
