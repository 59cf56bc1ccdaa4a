// Package migration 管理会话归档表的 schema 版本。
//
// 迁移文件按方言内嵌在 migrations/ 下，由 golang-migrate 执行；
// CLI 为 migrate 子命令提供格式化输出。
package migration
