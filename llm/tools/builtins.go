package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/Lynn-1221/Agents/llm"
	"github.com/Lynn-1221/Agents/rag"
	"github.com/Lynn-1221/Agents/types"
)

// DefaultContextWindow 实体上下文窗口的默认半宽（字符数）
const DefaultContextWindow = 50

// LocalContexts returns the text around each occurrence of entity, window runes
// on both sides, trimmed and de-duplicated in order of first occurrence.
func LocalContexts(entity, text string, window int) []string {
	if entity == "" {
		return nil
	}
	if window < 0 {
		window = DefaultContextWindow
	}
	pattern := regexp.MustCompile(regexp.QuoteMeta(entity))
	runes := []rune(text)
	// 字节偏移到 rune 下标的映射
	runeIndex := make([]int, len(text)+1)
	ri := 0
	for bi := range text {
		runeIndex[bi] = ri
		ri++
	}
	runeIndex[len(text)] = ri

	seen := make(map[string]struct{})
	var out []string
	for _, loc := range pattern.FindAllStringIndex(text, -1) {
		start := max(0, runeIndex[loc[0]]-window)
		end := min(len(runes), runeIndex[loc[1]]+window)
		ctx := strings.TrimSpace(string(runes[start:end]))
		if _, dup := seen[ctx]; dup {
			continue
		}
		seen[ctx] = struct{}{}
		out = append(out, ctx)
	}
	return out
}

// GaussianSeries 生成正态分布序列，seed 相同则结果相同
func GaussianSeries(n int, mean, std float64, seed uint64) []float64 {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + std*r.NormFloat64()
	}
	return out
}

// Normalize scales data into [0, 1]. A constant series maps to all zeros.
func Normalize(data []float64) []float64 {
	out := make([]float64, len(data))
	if len(data) == 0 {
		return out
	}
	lo, hi := data[0], data[0]
	for _, v := range data {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi == lo {
		return out
	}
	for i, v := range data {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// MovingAverage 计算窗口内均值，只输出完整窗口（长度 len(data)-window+1）
func MovingAverage(data []float64, window int) ([]float64, error) {
	if window < 1 {
		return nil, fmt.Errorf("window must be >= 1")
	}
	if window > len(data) {
		return nil, fmt.Errorf("window is larger than data length")
	}
	out := make([]float64, 0, len(data)-window+1)
	sum := 0.0
	for i, v := range data {
		sum += v
		if i >= window {
			sum -= data[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out, nil
}

type builtin struct {
	name   string
	desc   string
	params string
	fn     ToolFunc
}

// RegisterBuiltins registers the deterministic data tools. The retrieve tool is
// added only when retriever is non-nil.
func RegisterBuiltins(reg Registry, retriever rag.Retriever) error {
	builtins := []builtin{
		{
			name:   "extract_local_context",
			desc:   "Return the text windows surrounding each occurrence of an entity.",
			params: `{"type":"object","properties":{"entity":{"type":"string"},"text":{"type":"string"},"window":{"type":"integer"}},"required":["entity","text"]}`,
			fn: typed(func(_ context.Context, in struct {
				Entity string `json:"entity"`
				Text   string `json:"text"`
				Window *int   `json:"window"`
			}) (any, error) {
				w := DefaultContextWindow
				if in.Window != nil {
					w = *in.Window
				}
				return LocalContexts(in.Entity, in.Text, w), nil
			}),
		},
		{
			name:   "generate_series",
			desc:   "Generate n normally distributed points.",
			params: `{"type":"object","properties":{"n_points":{"type":"integer"},"mean":{"type":"number"},"std":{"type":"number"},"seed":{"type":"integer"}}}`,
			fn: typed(func(_ context.Context, in struct {
				N    int      `json:"n_points"`
				Mean float64  `json:"mean"`
				Std  *float64 `json:"std"`
				Seed uint64   `json:"seed"`
			}) (any, error) {
				if in.N == 0 {
					in.N = 60
				}
				if in.N < 0 || in.N > 100000 {
					return nil, fmt.Errorf("n_points out of range: %d", in.N)
				}
				std := 1.0
				if in.Std != nil {
					std = *in.Std
				}
				return GaussianSeries(in.N, in.Mean, std, in.Seed), nil
			}),
		},
		{
			name:   "normalize",
			desc:   "Min-max scale a series into [0, 1].",
			params: `{"type":"object","properties":{"data":{"type":"array","items":{"type":"number"}}},"required":["data"]}`,
			fn: typed(func(_ context.Context, in struct {
				Data []float64 `json:"data"`
			}) (any, error) {
				return Normalize(in.Data), nil
			}),
		},
		{
			name:   "moving_average",
			desc:   "Moving average over complete windows.",
			params: `{"type":"object","properties":{"data":{"type":"array","items":{"type":"number"}},"window":{"type":"integer"}},"required":["data"]}`,
			fn: typed(func(_ context.Context, in struct {
				Data   []float64 `json:"data"`
				Window int       `json:"window"`
			}) (any, error) {
				if in.Window == 0 {
					in.Window = 5
				}
				return MovingAverage(in.Data, in.Window)
			}),
		},
	}

	if retriever != nil {
		builtins = append(builtins, builtin{
			name:   "retrieve",
			desc:   "Search the document index and return the k best passages.",
			params: `{"type":"object","properties":{"query":{"type":"string"},"k":{"type":"integer"}},"required":["query"]}`,
			fn: typed(func(ctx context.Context, in struct {
				Query string `json:"query"`
				K     int    `json:"k"`
			}) (any, error) {
				if in.K <= 0 {
					in.K = 5
				}
				return retriever.Search(ctx, in.Query, in.K)
			}),
		})
	}

	for _, b := range builtins {
		meta := ToolMetadata{
			Schema: llm.ToolSchema{
				Name:        b.name,
				Description: b.desc,
				Parameters:  json.RawMessage(b.params),
			},
			Timeout: 10 * time.Second,
		}
		if err := reg.Register(b.name, b.fn, meta); err != nil {
			return err
		}
	}
	return nil
}

// typed adapts a function over a decoded argument struct to ToolFunc.
func typed[In any](fn func(ctx context.Context, in In) (any, error)) ToolFunc {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var in In
		if len(args) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, types.NewError(types.ErrToolValidation, "invalid arguments").WithCause(err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}
}
