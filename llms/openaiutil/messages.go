package openaiutil

import (
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = openai.ChatMessageRoleSystem
	RoleUser      Role = openai.ChatMessageRoleUser
	RoleAssistant Role = openai.ChatMessageRoleAssistant
	RoleFunction  Role = openai.ChatMessageRoleFunction
	RoleTool      Role = openai.ChatMessageRoleTool
)

// AdditionalKwargs carries the OpenAI message fields that have no place in
// plain role/content text.
type AdditionalKwargs struct {
	Name         string
	FunctionCall *openai.FunctionCall
	ToolCalls    []openai.ToolCall
	ToolCallID   string
}

// ChatMessage is a provider-neutral chat message.
type ChatMessage struct {
	Role             Role
	Content          string
	AdditionalKwargs AdditionalKwargs
}

// ToOpenAIMessage converts m to the wire shape.
func ToOpenAIMessage(m ChatMessage) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role:         string(m.Role),
		Content:      m.Content,
		Name:         m.AdditionalKwargs.Name,
		FunctionCall: m.AdditionalKwargs.FunctionCall,
		ToolCalls:    m.AdditionalKwargs.ToolCalls,
		ToolCallID:   m.AdditionalKwargs.ToolCallID,
	}
}

// FromOpenAIMessage converts a wire message back to a ChatMessage.
func FromOpenAIMessage(m openai.ChatCompletionMessage) ChatMessage {
	return ChatMessage{
		Role:    Role(m.Role),
		Content: m.Content,
		AdditionalKwargs: AdditionalKwargs{
			Name:         m.Name,
			FunctionCall: m.FunctionCall,
			ToolCalls:    m.ToolCalls,
			ToolCallID:   m.ToolCallID,
		},
	}
}

// ToOpenAIMessages converts every message in order.
func ToOpenAIMessages(msgs []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ToOpenAIMessage(m)
	}
	return out
}

// FromOpenAIMessages converts every message in order.
func FromOpenAIMessages(msgs []openai.ChatCompletionMessage) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = FromOpenAIMessage(m)
	}
	return out
}

// ToOpenAIFromMessageContent converts langchaingo messages to the wire shape.
// Text parts are concatenated; tool calls and tool responses are carried over.
func ToOpenAIFromMessageContent(msgs []llms.MessageContent) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		m := openai.ChatCompletionMessage{Role: roleFromLangChain(msg.Role)}

		var content strings.Builder
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case llms.TextContent:
				content.WriteString(p.Text)
			case llms.ToolCall:
				tc := openai.ToolCall{ID: p.ID, Type: openai.ToolTypeFunction}
				if p.FunctionCall != nil {
					tc.Function = openai.FunctionCall{Name: p.FunctionCall.Name, Arguments: p.FunctionCall.Arguments}
				}
				m.ToolCalls = append(m.ToolCalls, tc)
			case llms.ToolCallResponse:
				m.ToolCallID = p.ToolCallID
				m.Name = p.Name
				content.WriteString(p.Content)
			}
		}
		m.Content = content.String()
		out = append(out, m)
	}
	return out
}

// MessageContentFromOpenAI converts a wire message to a langchaingo message.
func MessageContentFromOpenAI(m openai.ChatCompletionMessage) llms.MessageContent {
	mc := llms.MessageContent{Role: roleToLangChain(m.Role)}
	if m.Content != "" {
		mc.Parts = append(mc.Parts, llms.TextPart(m.Content))
	}
	for _, tc := range m.ToolCalls {
		mc.Parts = append(mc.Parts, llms.ToolCall{
			ID:           tc.ID,
			Type:         string(tc.Type),
			FunctionCall: &llms.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	if m.Role == openai.ChatMessageRoleTool {
		mc.Parts = []llms.ContentPart{llms.ToolCallResponse{ToolCallID: m.ToolCallID, Name: m.Name, Content: m.Content}}
	}
	return mc
}

func roleFromLangChain(role llms.ChatMessageType) string {
	switch role {
	case llms.ChatMessageTypeAI:
		return openai.ChatMessageRoleAssistant
	case llms.ChatMessageTypeSystem:
		return openai.ChatMessageRoleSystem
	case llms.ChatMessageTypeFunction:
		return openai.ChatMessageRoleFunction
	case llms.ChatMessageTypeTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

func roleToLangChain(role string) llms.ChatMessageType {
	switch role {
	case openai.ChatMessageRoleAssistant:
		return llms.ChatMessageTypeAI
	case openai.ChatMessageRoleSystem:
		return llms.ChatMessageTypeSystem
	case openai.ChatMessageRoleFunction:
		return llms.ChatMessageTypeFunction
	case openai.ChatMessageRoleTool:
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageTypeHuman
	}
}
