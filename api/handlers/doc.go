/*
Package handlers 提供会话服务 HTTP API 的请求处理器。

# 核心类型

  - ConversationHandler：创建、查询、取消、恢复会话，WebSocket 流式推送消息
  - HealthHandler：存活与就绪探针（/healthz, /readyz），检查项并发执行
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码

# 错误映射

WriteError 按 types.ErrorCode 映射 HTTP 状态码；会话存储的 ErrNotFound
映射为 404。人工输入通过 hitl.InterruptManager 登记为中断，
由 POST /v1/interrupts/{id} 作答。
*/
package handlers
