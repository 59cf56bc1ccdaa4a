// Package api 定义 agents HTTP API 的请求与事件结构。
//
//	POST   /v1/conversations                     创建会话（wait=true 时同步运行）
//	GET    /v1/conversations                     列出已归档的会话
//	GET    /v1/conversations/{id}                查询会话快照
//	DELETE /v1/conversations/{id}                取消运行中的会话
//	POST   /v1/conversations/{id}/resume         从中断处继续
//	GET    /v1/conversations/{id}/interrupts     等待人工输入的中断
//	POST   /v1/interrupts/{id}                   提交人工输入
//	GET    /v1/conversations/stream              WebSocket：运行并逐条推送消息
//
// 鉴权使用 Authorization: Bearer <JWT>，未配置密钥时不启用。
package api
