package declarative

import "time"

// Participant kinds understood by the Factory.
const (
	KindLLM          = "llm"
	KindHuman        = "human"
	KindToolExecutor = "tool_executor"
	KindCodeExecutor = "code_executor"
	KindStatic       = "static"
)

// Arbitration strategies.
const (
	ArbitrationNone       = "none"
	ArbitrationPriority   = "priority"
	ArbitrationAskSpeaker = "ask_speaker"
	ArbitrationLLM        = "llm"
	ArbitrationHuman      = "human"
)

// ConversationDefinition 对话的声明式描述，可直接从 YAML/JSON 反序列化
type ConversationDefinition struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`

	// Model 参与者未指定模型时使用
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	Participants []ParticipantDefinition `yaml:"participants" json:"participants"`
	// Transitions 以参与者 ID 为键的允许后继表
	Transitions map[string][]string `yaml:"transitions" json:"transitions"`
	Initiator   string              `yaml:"initiator" json:"initiator"`
	MaxRounds   int                 `yaml:"max_rounds" json:"max_rounds"`

	Arbitration *ArbitrationDefinition `yaml:"arbitration,omitempty" json:"arbitration,omitempty"`
	Termination *TerminationDefinition `yaml:"termination,omitempty" json:"termination,omitempty"`
	Window      *WindowDefinition      `yaml:"window,omitempty" json:"window,omitempty"`
	Summary     *SummaryDefinition     `yaml:"summary,omitempty" json:"summary,omitempty"`

	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// ParticipantDefinition 单个参与者
type ParticipantDefinition struct {
	ID          string `yaml:"id" json:"id"`
	Kind        string `yaml:"kind" json:"kind"`
	Role        string `yaml:"role,omitempty" json:"role,omitempty"` // initiator, ordinary, terminal
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Autonomous 未设置时，human 以外的参与者都是自主的
	Autonomous *bool `yaml:"autonomous,omitempty" json:"autonomous,omitempty"`

	// LLM
	Model        string   `yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt string   `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Temperature  float32  `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens    int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Tools        []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	ToolChoice   string   `yaml:"tool_choice,omitempty" json:"tool_choice,omitempty"`
	ExpectJSON   bool     `yaml:"expect_json,omitempty" json:"expect_json,omitempty"`
	Required     []string `yaml:"required_fields,omitempty" json:"required_fields,omitempty"`

	// Static / executors
	Reply   string        `yaml:"reply,omitempty" json:"reply,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	Termination *TerminationDefinition `yaml:"termination,omitempty" json:"termination,omitempty"`
}

// ArbitrationDefinition 多个合法后继时的仲裁方式
type ArbitrationDefinition struct {
	Type  string   `yaml:"type" json:"type"`
	Order []string `yaml:"order,omitempty" json:"order,omitempty"`
	Model string   `yaml:"model,omitempty" json:"model,omitempty"`
	// Fallback 用于 ask_speaker：发言人未点名时按 Order 选择
	Fallback bool `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// TerminationDefinition 终止标记
type TerminationDefinition struct {
	Tokens        []string `yaml:"tokens" json:"tokens"`
	CaseSensitive bool     `yaml:"case_sensitive,omitempty" json:"case_sensitive,omitempty"`
}

// WindowDefinition 交给发言人的历史窗口
type WindowDefinition struct {
	LastN       int `yaml:"last_n,omitempty" json:"last_n,omitempty"`
	TokenBudget int `yaml:"token_budget,omitempty" json:"token_budget,omitempty"`
}

// SummaryDefinition 会话结束时的摘要方式：last_message 或 llm
type SummaryDefinition struct {
	Type   string `yaml:"type" json:"type"`
	Model  string `yaml:"model,omitempty" json:"model,omitempty"`
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}
