package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Lynn-1221/Agents/agent/conversation"
	"github.com/Lynn-1221/Agents/agent/structured"
	"github.com/Lynn-1221/Agents/llm/tools"
	"go.uber.org/zap"
)

// OtherClass 分类器无法匹配体系节点时使用的类别
const OtherClass = "其他"

// DefaultEntityBatchSize 每次泛化/分类调用处理的实体数
const DefaultEntityBatchSize = 10

// EntityContext 实体及其在原文中的一个局部窗口
type EntityContext struct {
	Entity         string     `json:"entity"`
	Context        string     `json:"context"`
	Generalization [][]string `json:"generalization,omitempty"`
}

// Classification 分类器对一条泛化路径的判断
type Classification struct {
	Generalization []string `json:"generalization,omitempty"`
	Classification string   `json:"classification"`
	Suggestion     string   `json:"suggestion"`
}

// EntityRecord 输出记录中的一条
type EntityRecord struct {
	Context        string   `json:"context"`
	Generalization []string `json:"generalization"`
	Classification string   `json:"classification"`
	Suggestion     string   `json:"suggestion"`
}

// EntityResult 按实体原文分组的记录
type EntityResult map[string][]EntityRecord

// EntityPipeline 三个 JSON 回复的参与者串成的抽取流水线：
// extractor 返回实体数组，generalizer 返回 {实体: [[路径]]}，
// classifier 返回 {实体: [{classification, suggestion}]}。
type EntityPipeline struct {
	extractor   conversation.Responder
	generalizer conversation.Responder
	classifier  conversation.Responder

	batchSize int
	window    int
	retries   int
	logger    *zap.Logger
}

// EntityOption configures an EntityPipeline.
type EntityOption func(*EntityPipeline)

// WithEntityBatchSize sets how many entities go into one generalize or classify call.
func WithEntityBatchSize(n int) EntityOption {
	return func(p *EntityPipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithContextWindow sets the characters kept on each side of an entity occurrence.
func WithContextWindow(n int) EntityOption {
	return func(p *EntityPipeline) { p.window = n }
}

// WithMalformedRetries sets how often an unparsable reply is retried.
func WithMalformedRetries(n int) EntityOption {
	return func(p *EntityPipeline) {
		if n >= 0 {
			p.retries = n
		}
	}
}

// NewEntityPipeline creates a pipeline from the three responders.
func NewEntityPipeline(extractor, generalizer, classifier conversation.Responder, logger *zap.Logger, opts ...EntityOption) *EntityPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &EntityPipeline{
		extractor:   extractor,
		generalizer: generalizer,
		classifier:  classifier,
		batchSize:   DefaultEntityBatchSize,
		window:      tools.DefaultContextWindow,
		retries:     1,
		logger:      logger.With(zap.String("component", "entity_pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Unit adapts the pipeline to a Runner.
func (p *EntityPipeline) Unit(ctx context.Context, u Unit) (any, error) {
	return p.Process(ctx, u.ID, u.Text())
}

// Process runs extract, generalize and classify over text. Batches that fail
// are skipped; the unit fails only when a whole stage produced nothing.
func (p *EntityPipeline) Process(ctx context.Context, id, text string) (EntityResult, error) {
	logger := p.logger.With(zap.String("id", id))

	raw, err := call[[]string](ctx, p, p.extractor, id, "extractor", text)
	if err != nil {
		return nil, fmt.Errorf("entity extraction: %w", err)
	}
	entities := dedupe(raw)

	var items []EntityContext
	for _, entity := range entities {
		for _, c := range tools.LocalContexts(entity, text, p.window) {
			items = append(items, EntityContext{Entity: entity, Context: c})
		}
	}
	logger.Debug("entities extracted", zap.Int("entities", len(entities)), zap.Int("contexts", len(items)))
	if len(items) == 0 {
		return EntityResult{}, nil
	}

	generalized := make(map[string][][]string)
	var genErrs []error
	for i, batch := range chunk(items, p.batchSize) {
		out, err := callBatch[map[string][][]string](ctx, p, p.generalizer, id, "generalizer", batch)
		if err != nil {
			logger.Warn("generalization batch failed", zap.Int("batch", i+1), zap.Error(err))
			genErrs = append(genErrs, err)
			continue
		}
		for k, v := range out {
			generalized[k] = v
		}
	}
	if len(generalized) == 0 {
		return nil, fmt.Errorf("all generalization batches failed: %w", errors.Join(genErrs...))
	}

	for i := range items {
		items[i].Generalization = generalized[items[i].Entity]
	}
	classified := make(map[string][]Classification)
	var clsErrs []error
	for i, batch := range chunk(items, p.batchSize) {
		out, err := callBatch[map[string][]Classification](ctx, p, p.classifier, id, "classifier", batch)
		if err != nil {
			logger.Warn("classification batch failed", zap.Int("batch", i+1), zap.Error(err))
			clsErrs = append(clsErrs, err)
			continue
		}
		for k, v := range out {
			classified[k] = v
		}
	}
	if len(classified) == 0 {
		return nil, fmt.Errorf("all classification batches failed: %w", errors.Join(clsErrs...))
	}

	return assemble(items, classified), nil
}

// assemble pairs each generalization path with the classification at the
// same index and resolves "建议为" suggestions into a class.
func assemble(items []EntityContext, classified map[string][]Classification) EntityResult {
	result := make(EntityResult)
	for _, item := range items {
		cls := classified[item.Entity]
		for i, path := range item.Generalization {
			info := Classification{Classification: OtherClass}
			if i < len(cls) {
				info = cls[i]
			}
			classification, suggestion := info.Classification, info.Suggestion
			if classification != OtherClass {
				suggestion = ""
			} else if suggestion != "" {
				if s, ok := structured.ExtractSuggestion(strings.TrimSpace(suggestion)); ok {
					classification, suggestion = s, ""
				}
			}
			result[item.Entity] = append(result[item.Entity], EntityRecord{
				Context:        item.Context,
				Generalization: path,
				Classification: classification,
				Suggestion:     suggestion,
			})
		}
	}
	return result
}

func callBatch[T any](ctx context.Context, p *EntityPipeline, r conversation.Responder, id, speaker string, batch []EntityContext) (T, error) {
	input, err := json.Marshal(batch)
	if err != nil {
		var zero T
		return zero, err
	}
	return call[T](ctx, p, r, id, speaker, string(input))
}

// call sends input as a single message and parses the JSON reply into T.
// Unparsable replies are retried with a clarification like a router turn.
func call[T any](ctx context.Context, p *EntityPipeline, r conversation.Responder, id, speaker, input string) (T, error) {
	var zero T
	turn := conversation.Turn{
		SessionID: id,
		Speaker:   speaker,
		History: []conversation.Message{{
			Sender:  conversation.ExternalSender,
			Kind:    conversation.KindText,
			Content: input,
		}},
	}

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		turn.Attempt = attempt
		reply, err := r.Respond(ctx, turn)
		if err != nil {
			var me *conversation.MalformedError
			if !errors.As(err, &me) {
				return zero, err
			}
			lastErr = err
			turn.Clarification = clarification(err)
			continue
		}
		text, ok := reply.(conversation.TextReply)
		if !ok {
			lastErr = conversation.Malformed("", fmt.Errorf("expected a text reply, got %T", reply))
			turn.Clarification = clarification(lastErr)
			continue
		}
		out, err := structured.ParseJSON[T](text.Content)
		if err != nil {
			lastErr = conversation.Malformed(text.Content, err)
			turn.Clarification = clarification(err)
			continue
		}
		return out, nil
	}
	return zero, lastErr
}

func clarification(err error) string {
	return fmt.Sprintf("Your previous reply could not be parsed (%v). Reply with valid JSON only.", err)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for i := 0; i < len(items); i += size {
		out = append(out, items[i:min(i+size, len(items))])
	}
	return out
}
