package nvidia

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/ragbridge/httpx"
	"github.com/smallnest/ragbridge/llms/openaiutil"
	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

// LLM is a chat model served by NVIDIA's OpenAI-compatible endpoint.
type LLM struct {
	client           *openai.Client
	aclient          *openai.Client
	httpConfig       httpx.Config
	mode             Mode
	model            string
	maxTokens        int
	temperature      float64
	logprobs         bool
	topLogprobs      int
	logger           log.Logger
	CallbacksHandler callbacks.Handler
}

var _ llms.Model = (*LLM)(nil)

// New returns an NVIDIA chat model.
//
// Authentication options:
// 1. WithAPIKey(apiKey) - pass API key directly
// 2. Set NVIDIA_API_KEY environment variable
//
// Example:
//
//	llm, err := nvidia.New(
//		nvidia.WithModel("meta/llama-3.1-8b-instruct"),
//	)
func New(opts ...Option) (*LLM, error) {
	o := &options{
		mode:       ModeNVIDIA,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		maxTokens:  DefaultMaxTokens,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}

	var apiKey string
	switch o.mode {
	case ModeNVIDIA:
		key, err := rag.ResolveAPIKey(o.apiKey, apiKeyEnv)
		if err != nil {
			return nil, fmt.Errorf(`%w
You can pass auth info by using nvidia.New(nvidia.WithAPIKey("{API Key}"))
or
export NVIDIA_API_KEY={API Key}`, err)
		}
		apiKey = key
		if o.baseURL == "" {
			o.baseURL = DefaultBaseURL
		}
	case ModeNIM:
		if o.baseURL == "" {
			return nil, rag.NewConfigError("base_url", nil, "mode %q requires a base URL", o.mode)
		}
		apiKey, _ = rag.ResolveAPIKey(o.apiKey, apiKeyEnv)
	default:
		return nil, rag.NewConfigError("mode", nil, "unknown mode %q", o.mode)
	}

	l := &LLM{
		httpConfig:       httpx.Config{Timeout: o.timeout, MaxRetries: o.maxRetries},
		mode:             o.mode,
		model:            o.model,
		maxTokens:        o.maxTokens,
		temperature:      o.temperature,
		logprobs:         o.logprobs,
		topLogprobs:      o.topLogprobs,
		logger:           o.logger,
		CallbacksHandler: o.callbacksHandler,
	}
	if l.logger == nil {
		l.logger = log.WithPrefix(nil, "nvidia")
	}
	l.client, l.aclient = openaiutil.NewClientPair(apiKey, o.baseURL, l.httpConfig)
	return l, nil
}

// Metadata describes the configured model.
func (o *LLM) Metadata() Metadata {
	return Metadata{
		ModelName:              o.model,
		ContextWindow:          contextWindow(o.model),
		NumOutputTokens:        o.maxTokens,
		IsChatModel:            true,
		IsFunctionCallingModel: isFunctionCalling(o.model),
	}
}

// AvailableModels lists the models the endpoint serves.
func (o *LLM) AvailableModels(ctx context.Context) ([]string, error) {
	list, err := o.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	models := make([]string, len(list.Models))
	for i, m := range list.Models {
		models[i] = m.ID
	}
	return models, nil
}

// Call generates a response from the LLM for the given prompt.
func (o *LLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, o, prompt, options...)
}

// Complete is Call under its completion-style name.
func (o *LLM) Complete(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return o.Call(ctx, prompt, options...)
}

// Chat sends messages and returns the assistant reply.
func (o *LLM) Chat(ctx context.Context, messages []openaiutil.ChatMessage, options ...llms.CallOption) (openaiutil.ChatMessage, error) {
	return o.chat(ctx, o.client, messages, options)
}

// ChatAsync runs Chat on the async client.
func (o *LLM) ChatAsync(ctx context.Context, messages []openaiutil.ChatMessage, options ...llms.CallOption) *rag.Future[openaiutil.ChatMessage] {
	return rag.Go(ctx, func(ctx context.Context) (openaiutil.ChatMessage, error) {
		return o.chat(ctx, o.aclient, messages, options)
	})
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return o.generate(ctx, o.client, openaiutil.ToOpenAIFromMessageContent(messages), messages, options)
}

// GenerateContentAsync runs GenerateContent on the async client.
func (o *LLM) GenerateContentAsync(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) *rag.Future[*llms.ContentResponse] {
	return rag.Go(ctx, func(ctx context.Context) (*llms.ContentResponse, error) {
		return o.generate(ctx, o.aclient, openaiutil.ToOpenAIFromMessageContent(messages), messages, options)
	})
}

func (o *LLM) chat(ctx context.Context, client *openai.Client, messages []openaiutil.ChatMessage, options []llms.CallOption) (openaiutil.ChatMessage, error) {
	resp, err := o.generate(ctx, client, openaiutil.ToOpenAIMessages(messages), nil, options)
	if err != nil {
		return openaiutil.ChatMessage{}, err
	}

	choice := resp.Choices[0]
	msg := openaiutil.ChatMessage{Role: openaiutil.RoleAssistant, Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		call := openai.ToolCall{ID: tc.ID, Type: openai.ToolType(tc.Type)}
		if tc.FunctionCall != nil {
			call.Function = openai.FunctionCall{Name: tc.FunctionCall.Name, Arguments: tc.FunctionCall.Arguments}
		}
		msg.AdditionalKwargs.ToolCalls = append(msg.AdditionalKwargs.ToolCalls, call)
	}
	return msg, nil
}

func (o *LLM) request(wire []openai.ChatCompletionMessage, opts *llms.CallOptions) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    wire,
		MaxTokens:   o.maxTokens,
		Temperature: float32(o.temperature),
		LogProbs:    o.logprobs,
		TopLogProbs: o.topLogprobs,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if opts.TopP > 0 {
		req.TopP = float32(opts.TopP)
	}
	if opts.N > 0 {
		req.N = opts.N
	}
	if opts.Seed != 0 {
		seed := opts.Seed
		req.Seed = &seed
	}
	if len(opts.StopWords) > 0 {
		req.Stop = opts.StopWords
	}
	if len(opts.Tools) > 0 {
		req.Tools = openaiutil.ToOpenAITools(opts.Tools)
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return req
}

func (o *LLM) generate(ctx context.Context, client *openai.Client, wire []openai.ChatCompletionMessage, messages []llms.MessageContent, options []llms.CallOption) (*llms.ContentResponse, error) {
	if o.CallbacksHandler != nil {
		o.CallbacksHandler.HandleLLMGenerateContentStart(ctx, messages)
	}

	opts := &llms.CallOptions{}
	for _, opt := range options {
		opt(opts)
	}
	req := o.request(wire, opts)

	var resp *llms.ContentResponse
	var err error
	if opts.StreamingFunc != nil {
		resp, err = o.stream(ctx, client, req, opts.StreamingFunc)
	} else {
		resp, err = o.complete(ctx, client, req)
	}
	if err != nil {
		if o.CallbacksHandler != nil {
			o.CallbacksHandler.HandleLLMError(ctx, err)
		}
		return nil, err
	}

	if o.CallbacksHandler != nil {
		o.CallbacksHandler.HandleLLMGenerateContentEnd(ctx, resp)
	}
	return resp, nil
}

func (o *LLM) complete(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest) (*llms.ContentResponse, error) {
	result, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("nvidia chat: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("nvidia chat: %w", rag.ErrEmptyResponse)
	}

	choices := make([]*llms.ContentChoice, len(result.Choices))
	for i, c := range result.Choices {
		choice := &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			GenerationInfo: map[string]any{
				"role":             c.Message.Role,
				"PromptTokens":     result.Usage.PromptTokens,
				"CompletionTokens": result.Usage.CompletionTokens,
				"TotalTokens":      result.Usage.TotalTokens,
			},
			ReasoningContent: c.Message.ReasoningContent,
		}
		if req.LogProbs {
			choice.GenerationInfo["logprobs"] = openaiutil.FromOpenAILogProbs(c.LogProbs)
		}
		for _, tc := range c.Message.ToolCalls {
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:           tc.ID,
				Type:         string(tc.Type),
				FunctionCall: &llms.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
			})
		}
		if len(choice.ToolCalls) > 0 {
			choice.FuncCall = choice.ToolCalls[0].FunctionCall
		}
		choices[i] = choice
	}
	return &llms.ContentResponse{Choices: choices}, nil
}

func (o *LLM) stream(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest, fn func(ctx context.Context, chunk []byte) error) (*llms.ContentResponse, error) {
	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("nvidia chat stream: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	var stopReason string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("nvidia chat stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		if chunk.Choices[0].FinishReason != "" {
			stopReason = string(chunk.Choices[0].FinishReason)
		}
		if delta == "" {
			continue
		}
		content.WriteString(delta)
		if err := fn(ctx, []byte(delta)); err != nil {
			return nil, err
		}
	}
	o.logger.Debug("stream finished: %d bytes, stop reason %q", content.Len(), stopReason)

	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        content.String(),
		StopReason:     stopReason,
		GenerationInfo: map[string]any{"role": openai.ChatMessageRoleAssistant},
	}}}, nil
}
