package openaiutil

import (
	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

// Tool describes a function the model may call. Parameters is a JSON schema.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToOpenAITool converts t to a function tool. A nil schema becomes an empty
// object schema, which every OpenAI-compatible server accepts.
func ToOpenAITool(t Tool) openai.Tool {
	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		},
	}
}

// ToOpenAITools converts langchaingo tools. Tools without a function are skipped.
func ToOpenAITools(tools []llms.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		params, _ := t.Function.Parameters.(map[string]any)
		tool := ToOpenAITool(Tool{Name: t.Function.Name, Description: t.Function.Description, Parameters: params})
		if params == nil && t.Function.Parameters != nil {
			tool.Function.Parameters = t.Function.Parameters
		}
		tool.Function.Strict = t.Function.Strict
		out = append(out, tool)
	}
	return out
}
