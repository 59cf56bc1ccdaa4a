// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑。
// 启用时导出会话与轮次的 trace 以及 Provider 调用的 metric；
// 禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
