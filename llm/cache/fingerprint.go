package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Lynn-1221/Agents/llm"
)

// fingerprintView 是参与指纹计算的请求字段。TraceID、Timeout 不影响模型输出，排除在外。
type fingerprintView struct {
	Model       string           `json:"model"`
	Messages    []llm.Message    `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
	TopP        float32          `json:"top_p,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	Tools       []llm.ToolSchema `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
}

// Fingerprint 生成请求的确定性指纹：规范化 JSON 的 SHA-256。
// 字节级相同的请求一定得到相同指纹。
func Fingerprint(req *llm.ChatRequest) string {
	view := fingerprintView{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
	}
	// 结构体字段顺序固定，Marshal 输出是确定的
	data, err := json.Marshal(view)
	if err != nil {
		// RawMessage 非法时退回 %#v，仍保持确定性
		data = []byte(fmt.Sprintf("%#v", view))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
