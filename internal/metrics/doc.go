/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、会话、
Completion Provider、缓存与数据库五个维度。

# 核心类型

  - Collector：持有全部向量指标。实现 conversation.Observer 与
    cache.Observer，可以直接挂到 Router 和 CachedProvider 上。
  - InstrumentedProvider：包装 llm.Provider，记录请求次数、耗时与 Token 用量。

指标注册到构造时传入的 Registerer，为 nil 时使用 prometheus.DefaultRegisterer。
*/
package metrics
