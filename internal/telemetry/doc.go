// Package telemetry 封装 OpenTelemetry SDK 初始化，为 kiboserve 提供
// OTLP 导出的 TracerProvider 与 MeterProvider。禁用时使用 noop 实现，
// 不连接任何外部服务；启用 mirror_spans 时 studio span 会同步为 OTel span。
package telemetry
