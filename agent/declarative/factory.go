package declarative

import (
	"fmt"

	"github.com/Lynn-1221/Agents/agent/conversation"
	"github.com/Lynn-1221/Agents/agent/sandbox"
	"github.com/Lynn-1221/Agents/llm"
	"github.com/Lynn-1221/Agents/llm/tokenizer"
	"github.com/Lynn-1221/Agents/llm/tools"
	"go.uber.org/zap"
)

// Collaborators 构建 Plan 时注入的外部依赖，按参与者类型按需使用
type Collaborators struct {
	Provider   llm.Provider
	HumanInput conversation.HumanInput
	Tools      tools.Registry
	Sandboxes  *sandbox.Manager
}

// Defaults 定义文件未填写时使用的值
type Defaults struct {
	Model     string
	MaxRounds int
	Window    *WindowDefinition
}

// Factory converts definitions into conversation plans.
type Factory struct {
	defaults Defaults
	logger   *zap.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithDefaults fills unset model, max_rounds and window fields of every definition.
func WithDefaults(d Defaults) FactoryOption {
	return func(f *Factory) { f.defaults = d }
}

// NewFactory creates a new Factory.
func NewFactory(logger *zap.Logger, opts ...FactoryOption) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{logger: logger.With(zap.String("component", "declarative_factory"))}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// withDefaults returns a shallow copy of def with the factory defaults applied.
func (f *Factory) withDefaults(def *ConversationDefinition) *ConversationDefinition {
	if def == nil {
		return nil
	}
	out := *def
	if out.Model == "" {
		out.Model = f.defaults.Model
	}
	if out.MaxRounds == 0 {
		out.MaxRounds = f.defaults.MaxRounds
	}
	if out.Window == nil {
		out.Window = f.defaults.Window
	}
	return &out
}

// Validate checks the fields the plan compiler cannot see: kinds, roles and
// arbitration settings. Graph membership is checked when the plan is built.
func (f *Factory) Validate(def *ConversationDefinition) error {
	if def == nil {
		return fmt.Errorf("conversation definition is nil")
	}
	if len(def.Participants) == 0 {
		return fmt.Errorf("conversation definition: at least one participant is required")
	}
	if def.MaxRounds < 1 {
		return fmt.Errorf("conversation definition: max_rounds must be >= 1, got %d", def.MaxRounds)
	}
	for _, p := range def.Participants {
		switch p.Kind {
		case KindLLM, KindHuman, KindToolExecutor, KindCodeExecutor, KindStatic:
		default:
			return fmt.Errorf("participant %q: unknown kind %q", p.ID, p.Kind)
		}
		switch conversation.Role(p.Role) {
		case "", conversation.RoleInitiator, conversation.RoleOrdinary, conversation.RoleTerminal:
		default:
			return fmt.Errorf("participant %q: unknown role %q", p.ID, p.Role)
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			return fmt.Errorf("participant %q: temperature must be between 0 and 2, got %g", p.ID, p.Temperature)
		}
	}
	if a := def.Arbitration; a != nil {
		switch a.Type {
		case ArbitrationNone, ArbitrationAskSpeaker, ArbitrationLLM, ArbitrationHuman:
		case ArbitrationPriority:
			if len(a.Order) == 0 {
				return fmt.Errorf("priority arbitration needs an order")
			}
		default:
			return fmt.Errorf("unknown arbitration type %q", a.Type)
		}
	}
	if s := def.Summary; s != nil && s.Type != "last_message" && s.Type != "llm" && s.Type != "none" {
		return fmt.Errorf("unknown summary type %q", s.Type)
	}
	return nil
}

// Build validates def and binds it to collaborators.
func (f *Factory) Build(def *ConversationDefinition, c Collaborators) (*conversation.Plan, error) {
	def = f.withDefaults(def)
	if err := f.Validate(def); err != nil {
		return nil, err
	}

	plan := &conversation.Plan{
		Transitions: def.Transitions,
		Initiator:   def.Initiator,
		MaxRounds:   def.MaxRounds,
	}
	for _, pd := range def.Participants {
		p, err := f.participant(def, pd, c)
		if err != nil {
			return nil, fmt.Errorf("participant %q: %w", pd.ID, err)
		}
		plan.Participants = append(plan.Participants, p)
	}

	arbiter, err := f.arbiter(def, c)
	if err != nil {
		return nil, err
	}
	plan.Arbiter = arbiter
	plan.Terminate = termination(def.Termination)

	if s := def.Summary; s != nil {
		switch s.Type {
		case "last_message":
			plan.Summarizer = conversation.LastMessageSummarizer{StripToken: firstToken(def.Termination)}
		case "llm":
			if c.Provider == nil {
				return nil, fmt.Errorf("llm summary needs a completion provider")
			}
			plan.Summarizer = conversation.LLMSummarizer{Provider: c.Provider, Model: orDefault(s.Model, def.Model), Prompt: s.Prompt}
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	f.logger.Debug("plan built",
		zap.String("name", def.Name),
		zap.Int("participants", len(plan.Participants)),
		zap.Int("max_rounds", plan.MaxRounds))
	return plan, nil
}

// Window returns the history window described by def. counter may be nil.
func (f *Factory) Window(def *ConversationDefinition, counter tokenizer.Counter) conversation.Window {
	def = f.withDefaults(def)
	if def == nil {
		return conversation.FullWindow{}
	}
	w := def.Window
	switch {
	case w == nil:
	case w.TokenBudget > 0:
		if counter == nil {
			counter = tokenizer.ForModel(def.Model, f.logger)
		}
		return conversation.TokenBudget{Counter: counter, Budget: w.TokenBudget}
	case w.LastN > 0:
		return conversation.LastN(w.LastN)
	}
	return conversation.FullWindow{}
}

func (f *Factory) participant(def *ConversationDefinition, pd ParticipantDefinition, c Collaborators) (conversation.Participant, error) {
	p := conversation.Participant{
		ID:          pd.ID,
		Role:        conversation.Role(orDefault(pd.Role, string(conversation.RoleOrdinary))),
		Description: pd.Description,
		Autonomous:  pd.Kind != KindHuman,
		Terminate:   termination(pd.Termination),
	}
	if pd.Autonomous != nil {
		p.Autonomous = *pd.Autonomous
	}

	switch pd.Kind {
	case KindLLM:
		if c.Provider == nil {
			return p, fmt.Errorf("llm participant needs a completion provider")
		}
		schemas, err := toolSchemas(c.Tools, pd.Tools)
		if err != nil {
			return p, err
		}
		p.Responder = conversation.LLMResponder{
			Provider:       c.Provider,
			Model:          orDefault(pd.Model, def.Model),
			SystemPrompt:   pd.SystemPrompt,
			Temperature:    pd.Temperature,
			MaxTokens:      pd.MaxTokens,
			Tools:          schemas,
			ToolChoice:     pd.ToolChoice,
			ExpectJSON:     pd.ExpectJSON,
			RequiredFields: pd.Required,
		}
	case KindHuman:
		if c.HumanInput != nil {
			p.Responder = conversation.HumanResponder{Input: c.HumanInput}
		}
	case KindToolExecutor:
		if c.Tools == nil {
			return p, fmt.Errorf("tool executor needs a tool registry")
		}
		p.Responder = conversation.ToolExecutorResponder{
			Executor:     tools.NewDefaultExecutor(c.Tools, f.logger),
			DefaultReply: pd.Reply,
		}
	case KindCodeExecutor:
		if c.Sandboxes == nil {
			return p, fmt.Errorf("code executor needs a sandbox manager")
		}
		p.Responder = conversation.CodeExecutorResponder{
			Sandboxes:    c.Sandboxes,
			Timeout:      pd.Timeout,
			DefaultReply: pd.Reply,
		}
	case KindStatic:
		p.Responder = conversation.StaticResponder{Content: pd.Reply}
	}
	return p, nil
}

func (f *Factory) arbiter(def *ConversationDefinition, c Collaborators) (conversation.Arbiter, error) {
	a := def.Arbitration
	if a == nil {
		return nil, nil
	}
	switch a.Type {
	case ArbitrationPriority:
		return conversation.PriorityArbiter{Order: a.Order}, nil
	case ArbitrationAskSpeaker:
		arb := conversation.AskSpeakerArbiter{}
		if a.Fallback && len(a.Order) > 0 {
			arb.Fallback = conversation.PriorityArbiter{Order: a.Order}
		}
		return arb, nil
	case ArbitrationLLM:
		if c.Provider == nil {
			return nil, fmt.Errorf("llm arbitration needs a completion provider")
		}
		return conversation.LLMArbiter{Provider: c.Provider, Model: orDefault(a.Model, def.Model)}, nil
	case ArbitrationHuman:
		if c.HumanInput == nil {
			return nil, fmt.Errorf("human arbitration needs human input")
		}
		return conversation.HumanArbiter{Input: c.HumanInput}, nil
	}
	return nil, nil
}

func toolSchemas(reg tools.Registry, names []string) ([]llm.ToolSchema, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if reg == nil {
		return nil, fmt.Errorf("tools %v requested but no registry configured", names)
	}
	out := make([]llm.ToolSchema, 0, len(names))
	for _, name := range names {
		_, meta, err := reg.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, meta.Schema)
	}
	return out, nil
}

func termination(def *TerminationDefinition) conversation.TerminationPredicate {
	if def == nil || len(def.Tokens) == 0 {
		return nil
	}
	preds := make([]conversation.TerminationPredicate, len(def.Tokens))
	for i, tok := range def.Tokens {
		preds[i] = conversation.ContainsToken(tok, def.CaseSensitive)
	}
	if len(preds) == 1 {
		return preds[0]
	}
	return conversation.AnyOf(preds...)
}

func firstToken(def *TerminationDefinition) string {
	if def == nil || len(def.Tokens) == 0 {
		return ""
	}
	return def.Tokens[0]
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
