package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tessellate-ai/atelier/internal/store"
)

// Turn is one conversation turn in provider-neutral form.
type Turn struct {
	Role        string
	Text        string
	ToolUses    []ToolUse
	ToolResults []ToolResult
}

// ToolUse is a tool invocation requested by the model.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is the outcome of a tool invocation fed back to the model.
type ToolResult struct {
	UseID   string
	Output  string
	IsError bool
}

// ToolDef describes a tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// CompleteParams is one model call.
type CompleteParams struct {
	Provider    *store.Provider
	Model       *store.Model
	System      string
	Turns       []Turn
	Tools       []ToolDef
	MaxTokens   *int
	Temperature *float64
}

// Completion is the model's accumulated response.
type Completion struct {
	Text         string
	ToolUses     []ToolUse
	StopReason   string
	InputTokens  int
	OutputTokens int
	CachedTokens int
}

// LLM performs a single model completion. The production
// implementation talks to the Anthropic API; tests substitute a fake.
type LLM interface {
	Complete(ctx context.Context, p CompleteParams) (*Completion, error)
}

// anthropicLLM implements LLM on the Anthropic SDK, streaming the
// response and accumulating it into a single message.
type anthropicLLM struct{}

func (anthropicLLM) Complete(ctx context.Context, p CompleteParams) (*Completion, error) {
	opts := []option.RequestOption{option.WithAPIKey(p.Provider.APIKey)}
	if p.Provider.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.Provider.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := int64(4096)
	if p.MaxTokens != nil {
		maxTokens = int64(*p.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.Model.UpstreamID),
		MaxTokens: maxTokens,
		Messages:  buildMessages(p.Turns),
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}
	if p.Temperature != nil {
		params.Temperature = anthropic.Float(*p.Temperature)
	}
	if len(p.Tools) > 0 {
		params.Tools = buildTools(p.Tools)
	}

	stream := client.Messages.NewStreaming(ctx, params)
	var message anthropic.Message
	for stream.Next() {
		event := stream.Current()
		_ = message.Accumulate(event)
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("streaming: %w", err)
	}

	completion := &Completion{
		StopReason:   string(message.StopReason),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		CachedTokens: int(message.Usage.CacheReadInputTokens),
	}
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			completion.Text += variant.Text
		case anthropic.ToolUseBlock:
			input, err := json.Marshal(variant.Input)
			if err != nil {
				input = nil
			}
			completion.ToolUses = append(completion.ToolUses, ToolUse{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: input,
			})
		}
	}
	return completion, nil
}

func buildMessages(turns []Turn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		role := anthropic.MessageParamRoleUser
		if turn.Role == "assistant" {
			role = anthropic.MessageParamRoleAssistant
		}
		var content []anthropic.ContentBlockParamUnion
		if turn.Text != "" {
			content = append(content, anthropic.NewTextBlock(turn.Text))
		}
		for _, use := range turn.ToolUses {
			var input any
			if len(use.Input) > 0 {
				_ = json.Unmarshal(use.Input, &input)
			}
			content = append(content, anthropic.NewToolUseBlock(use.ID, input, use.Name))
		}
		for _, res := range turn.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(res.UseID, res.Output, res.IsError))
		}
		if len(content) > 0 {
			messages = append(messages, anthropic.MessageParam{Role: role, Content: content})
		}
	}
	return messages
}

func buildTools(defs []ToolDef) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		_ = json.Unmarshal(def.InputSchema, &schema)
		toolParam := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return tools
}
