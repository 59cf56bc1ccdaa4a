// Package cache 提供 Completion 请求的共享缓存：确定性请求指纹、
// 固定容量 LRU + Redis 两级存储，以及按指纹合并在途请求的 CachedProvider。
package cache
