package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tessellate-ai/atelier/internal/store"
)

// maxToolIterations caps the model/tool loop per agent invocation.
const maxToolIterations = 10

type executionResult struct {
	Output    string
	ToolCalls []store.ToolCall
	Usage     store.UsageTotals
}

// execute runs the target agent, or each team member in order feeding
// the previous member's output forward.
func (r *Runner) execute(ctx context.Context, run *store.Run) (*executionResult, error) {
	if run.AgentID != nil {
		agent, err := r.store.GetAgent(ctx, *run.AgentID)
		if err != nil {
			return nil, fmt.Errorf("resolve agent: %w", err)
		}
		return r.executeAgent(ctx, run, agent, run.Prompt)
	}

	team, err := r.store.GetTeam(ctx, *run.TeamID)
	if err != nil {
		return nil, fmt.Errorf("resolve team: %w", err)
	}
	result := &executionResult{}
	input := run.Prompt
	for _, agentID := range team.AgentIDs {
		agent, err := r.store.GetAgent(ctx, agentID)
		if err != nil {
			return result, fmt.Errorf("resolve team member: %w", err)
		}
		step, err := r.executeAgent(ctx, run, agent, input)
		if step != nil {
			result.Usage.InputTokens += step.Usage.InputTokens
			result.Usage.OutputTokens += step.Usage.OutputTokens
			result.Usage.CachedTokens += step.Usage.CachedTokens
			result.Usage.Requests += step.Usage.Requests
			result.ToolCalls = append(result.ToolCalls, step.ToolCalls...)
			result.Output = step.Output
		}
		if err != nil {
			return result, fmt.Errorf("agent %s: %w", agent.Name, err)
		}
		input = step.Output
	}
	return result, nil
}

// executeAgent drives the model and tool loop for one agent.
func (r *Runner) executeAgent(ctx context.Context, run *store.Run, agent *store.Agent, prompt string) (*executionResult, error) {
	model, err := r.store.GetModel(ctx, agent.ModelID)
	if err != nil {
		return nil, fmt.Errorf("resolve model: %w", err)
	}
	provider, err := r.store.GetProvider(ctx, model.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}

	tools, err := r.toolDefs(ctx, agent)
	if err != nil {
		return nil, err
	}

	result := &executionResult{}
	conv := []Turn{{Role: "user", Text: prompt}}

	for i := 0; i < maxToolIterations; i++ {
		completion, err := r.llm.Complete(ctx, CompleteParams{
			Provider:    provider,
			Model:       model,
			System:      agent.SystemPrompt,
			Turns:       conv,
			Tools:       tools,
			MaxTokens:   agent.MaxTokens,
			Temperature: agent.Temperature,
		})
		if err != nil {
			return result, fmt.Errorf("model call: %w", err)
		}

		result.Usage.InputTokens += completion.InputTokens
		result.Usage.OutputTokens += completion.OutputTokens
		result.Usage.CachedTokens += completion.CachedTokens
		result.Usage.Requests++
		r.recordUsage(ctx, run, model, completion)

		if len(completion.ToolUses) == 0 {
			result.Output = completion.Text
			return result, nil
		}

		conv = append(conv, Turn{Role: "assistant", Text: completion.Text, ToolUses: completion.ToolUses})
		var results []ToolResult
		for _, use := range completion.ToolUses {
			output, isErr := r.invokeTool(ctx, agent, use)
			result.ToolCalls = append(result.ToolCalls, store.ToolCall{
				Name:    use.Name,
				Input:   use.Input,
				Output:  output,
				IsError: isErr,
			})
			results = append(results, ToolResult{UseID: use.ID, Output: output, IsError: isErr})
		}
		conv = append(conv, Turn{Role: "user", ToolResults: results})
	}
	return result, fmt.Errorf("tool loop exceeded %d iterations", maxToolIterations)
}

func (r *Runner) recordUsage(ctx context.Context, run *store.Run, model *store.Model, c *Completion) {
	ev := &store.UsageEvent{
		UserID:       run.UserID,
		ModelID:      model.ID,
		InputTokens:  c.InputTokens,
		OutputTokens: c.OutputTokens,
		CachedTokens: c.CachedTokens,
		Day:          time.Now().UTC().Truncate(24 * time.Hour),
	}
	// Per-group rollups aggregate off this column. A user in several
	// groups attributes to the first by name.
	if groups, err := r.store.ListUserGroups(ctx, run.UserID); err == nil && len(groups) > 0 {
		ev.GroupID = &groups[0].ID
	}
	if err := r.store.RecordUsage(ctx, ev); err != nil {
		r.log.Error("record usage", "run_id", run.ID, "error", err)
	}
}

// toolDefs resolves the agent's tool server refs into tool definitions
// for the model. Refs to deleted servers are skipped with a warning so
// an agent keeps working after one of its servers is removed.
func (r *Runner) toolDefs(ctx context.Context, agent *store.Agent) ([]ToolDef, error) {
	var defs []ToolDef
	for _, ref := range agent.ToolServers {
		switch ref.Kind {
		case store.RefBuiltin:
			def, ok := builtinToolDefs[ref.ID]
			if !ok {
				r.log.Warn("unknown builtin tool server", "agent_id", agent.ID, "key", ref.ID)
				continue
			}
			defs = append(defs, def)
		case store.RefPersisted:
			id, err := ref.UUID()
			if err != nil {
				return nil, err
			}
			ts, err := r.store.GetToolServer(ctx, id)
			if err != nil {
				r.log.Warn("tool server missing", "agent_id", agent.ID, "ref", ref.String())
				continue
			}
			defs = append(defs, ToolDef{
				Name:        ts.Name,
				Description: fmt.Sprintf("Remote %s tool server", ts.Kind),
				InputSchema: genericToolSchema,
			})
		}
	}
	return defs, nil
}

var genericToolSchema = json.RawMessage(`{"type":"object","properties":{"input":{"type":"string","description":"The request to send to the tool"}},"required":["input"]}`)

var builtinToolDefs = map[string]ToolDef{
	"web_search": {
		Name:        "web_search",
		Description: "Search the web and return result snippets",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
	},
	"code_interpreter": {
		Name:        "code_interpreter",
		Description: "Execute a short code snippet and return its output",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"code":{"type":"string"}},"required":["code"]}`),
	},
	"file_store": {
		Name:        "file_store",
		Description: "Store and retrieve named text snippets for this run",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"op":{"type":"string","enum":["get","put"]},"key":{"type":"string"},"value":{"type":"string"}},"required":["op","key"]}`),
	},
}
