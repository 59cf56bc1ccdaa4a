package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Lynn-1221/Agents/llm"
	"github.com/Lynn-1221/Agents/llm/tools"
	"github.com/Lynn-1221/Agents/types"
)

// RunCodeToolName 注册到工具表中的名称
const RunCodeToolName = "run_code"

// RegisterTool exposes the manager as the run_code tool. The sandbox is
// chosen by the session id carried in the call context.
func RegisterTool(reg tools.Registry, m *Manager) error {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var in struct {
			Language Language `json:"language"`
			Code     string   `json:"code"`
			Timeout  int      `json:"timeout_seconds"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, types.NewError(types.ErrToolValidation, "invalid arguments").WithCause(err)
		}
		sessionID, ok := types.SessionID(ctx)
		if !ok {
			return nil, fmt.Errorf("run_code needs a session")
		}
		ex, err := m.For(sessionID)
		if err != nil {
			return nil, err
		}
		res, err := ex.Run(ctx, ExecutionRequest{
			Language: in.Language,
			Code:     in.Code,
			Timeout:  time.Duration(in.Timeout) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}

	return reg.Register(RunCodeToolName, fn, tools.ToolMetadata{
		Schema: llm.ToolSchema{
			Name:        RunCodeToolName,
			Description: "Run a code fragment in the session sandbox and return stdout, stderr and the exit code.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"language":{"type":"string","enum":["python","bash","sh","javascript"]},` +
				`"code":{"type":"string"},"timeout_seconds":{"type":"integer"}},"required":["language","code"]}`),
		},
		Timeout: m.config.Timeout + m.config.KillGrace + time.Second,
	})
}
