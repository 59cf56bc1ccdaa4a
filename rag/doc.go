// Package rag 实现检索委托：给定查询返回至多 k 条 (内容, 分数)。
//
// 对同一份索引快照，检索结果是确定的，检索本身从不修改索引。
// 索引可以在内存中构建，也可以持久化为 JSON 文件后只读加载，
// 由多个会话并发共享。
package rag
