/*
Package main 提供 agents 的命令行与服务端入口。

# 概述

cmd/agents 把配置、Completion Provider 链、工具注册表、代码沙箱、
会话存储和指标组装在一起，对外提供 HTTP 会话服务和几个离线命令。

# 子命令

  - serve    启动 HTTP 服务，路由见 api/handlers
  - run      在终端运行一次会话，人工参与者从标准输入作答，可用 --resume 继续中断的会话
  - batch    对 CSV 的每一行运行实体抽取流水线，结果按行写入 JSON 文件
  - index    对目录中的文档分块、向量化并写出检索索引
  - migrate  数据库迁移（up、down、steps、goto、force、status 等）
  - health   请求 /healthz
  - version  打印构建信息，Version、BuildTime、GitCommit 通过 ldflags 注入

# 中间件链

Recovery → RequestID → SecurityHeaders → OTelTracing → Metrics →
RequestLogger → RateLimiter（按 IP，可选）→ JWTAuth（HS256，可选）。
/healthz、/readyz、/version、/metrics 不需要鉴权。

# 优雅关闭

收到信号后先停止监听，再依次取消运行中的会话、停止限流清理、
关闭会话存储、连接池、Redis 客户端和遥测导出器。
*/
package main
