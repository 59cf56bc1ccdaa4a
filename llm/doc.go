/*
包 llm 定义会话路由所依赖的 Completion Provider 抽象，以及在其之上叠加的
超时、重试与限流包装。

# 请求与响应

[ChatRequest] 携带模型名、消息序列、采样参数与可选的工具声明；
[ChatResponse] 返回候选回复与用量统计，[ChatResponse.FirstMessage]
取第一条候选。消息角色固定为 system / user / assistant / tool 四种，
工具调用通过 [ToolCall] 与 [Message.ToolCallID] 关联。

# 核心接口

  - [Provider]：Completion + Name，所有包装器都实现该接口
  - [Embedder]：文本向量化，供检索索引使用
  - [ProviderFunc]：函数适配器，常用于测试

# 包装器

包装器由内到外依次为 openai、ResilientProvider、RateLimitedProvider、
指标记录与完成结果缓存。

  - [ResilientProvider]：单次调用超时，按 retry.Policy 重试可重试错误，
    重试耗尽后统一返回 COLLABORATOR_UNAVAILABLE
  - [RateLimitedProvider]：令牌桶限流，等待期间尊重 ctx 取消

具体服务商实现位于 providers 子包，完成结果缓存位于 cache 子包。
*/
package llm
