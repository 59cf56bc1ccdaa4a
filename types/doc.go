/*
Package types 提供全局共享的错误码与 Context 键定义。

types 是最底层的公共包，不依赖任何内部包。conversation、llm、
sandbox、api 等上层模块都通过这里的 Error / ErrorCode 上报错误，
从而让调用方可以用 IsCode 统一判断死锁、歧义转移、回复格式错误等情况。
*/
package types
