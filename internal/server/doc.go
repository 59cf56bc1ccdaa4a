/*
Package server 管理 HTTP 服务器的生命周期：非阻塞启动、信号监听、
优雅关闭，以及关闭后按注册顺序执行的钩子（停止会话、关闭存储与连接池）。
*/
package server
