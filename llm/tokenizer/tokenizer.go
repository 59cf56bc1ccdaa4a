package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Counter 统计文本的 token 数
type Counter interface {
	Count(text string) int
	Name() string
}

// 每条消息的固定开销（角色标记与分隔符）
const MessageOverhead = 4

var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4.1":                "o200k_base",
	"o1":                     "o200k_base",
	"o3":                     "o200k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
}

// EncodingForModel 返回模型对应的 tiktoken 编码名；未知模型返回空串
func EncodingForModel(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best := ""
	for prefix := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	return modelEncodings[best]
}

// Tiktoken 基于 tiktoken 的计数器，编码数据在首次使用时加载。
// 加载失败时退回 Estimator，不向调用方返回错误。
type Tiktoken struct {
	encoding string
	fallback *Estimator
	logger   *zap.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktoken 创建指定编码的计数器
func NewTiktoken(encoding string, logger *zap.Logger) *Tiktoken {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiktoken{
		encoding: encoding,
		fallback: NewEstimator(),
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

func (t *Tiktoken) load() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.logger.Warn("tiktoken unavailable, using estimator",
				zap.String("encoding", t.encoding), zap.Error(err))
			return
		}
		t.enc = enc
	})
	return t.enc
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	enc := t.load()
	if enc == nil {
		return t.fallback.Count(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *Tiktoken) Name() string { return "tiktoken[" + t.encoding + "]" }

// ForModel 为模型选择计数器
func ForModel(model string, logger *zap.Logger) Counter {
	if enc := EncodingForModel(model); enc != "" {
		return NewTiktoken(enc, logger)
	}
	return NewEstimator()
}
