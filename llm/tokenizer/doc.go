// Package tokenizer 为对话窗口的 Token 预算提供计数器：
// 已知 OpenAI 模型使用 tiktoken 精确计数，其余模型回退到按字符估算。
package tokenizer
