package conversation

import (
	"github.com/Lynn-1221/Agents/types"
)

// Plan 一次对话的配置：参与者、转移表与终止规则。
// Router 只读取 Plan，不会修改它；同一个 Plan 可供多个会话并发使用。
type Plan struct {
	Participants []Participant
	// Transitions 以参与者 ID 为键的允许后继表
	Transitions map[string][]string
	Initiator   string
	MaxRounds   int
	// Arbiter 为空时，出现多个合法后继即以 AmbiguousTransition 结束
	Arbiter Arbiter
	// Terminate 全局终止条件，对每条新消息评估
	Terminate TerminationPredicate
	// Summarizer 覆盖 Router 的默认摘要策略
	Summarizer Summarizer
}

// compiledPlan 校验后的 Plan
type compiledPlan struct {
	*Plan
	graph *TransitionGraph
	byID  map[string]Participant
}

func compilePlan(p *Plan) (*compiledPlan, error) {
	if p == nil {
		return nil, types.NewError(types.ErrInvalidGraph, "plan is nil")
	}
	if p.MaxRounds < 1 {
		return nil, types.Errorf(types.ErrInvalidGraph, "max rounds must be >= 1, got %d", p.MaxRounds)
	}

	ids := make([]string, len(p.Participants))
	byID := make(map[string]Participant, len(p.Participants))
	for i, part := range p.Participants {
		ids[i] = part.ID
		byID[part.ID] = part
	}
	graph, err := NewTransitionGraph(ids, p.Transitions)
	if err != nil {
		return nil, err
	}
	if !graph.Has(p.Initiator) {
		return nil, types.Errorf(types.ErrInvalidGraph, "initiator %q is not a participant", p.Initiator)
	}
	for _, part := range p.Participants {
		if part.Autonomous && part.Responder == nil {
			return nil, types.Errorf(types.ErrInvalidGraph, "autonomous participant %q has no responder", part.ID)
		}
	}
	return &compiledPlan{Plan: p, graph: graph, byID: byID}, nil
}

// Validate checks the plan without starting a session.
func (p *Plan) Validate() error {
	_, err := compilePlan(p)
	return err
}

// Graph returns the validated transition graph.
func (p *Plan) Graph() (*TransitionGraph, error) {
	cp, err := compilePlan(p)
	if err != nil {
		return nil, err
	}
	return cp.graph, nil
}
