// Package persistence 保存对话会话快照与批处理结果记录。
//
// SessionStore 支持以下后端：
//   - Memory: 开发与测试（默认）
//   - File: 单节点部署，每个会话一个 JSON 文件
//   - Redis: 分布式部署，快照带可选 TTL
//   - Database: 通过 gorm 归档到 sqlite/postgres/mysql
//
// 中断（interrupted）状态的快照可以重新加载并交给 Router.Resume 继续运行。
package persistence
