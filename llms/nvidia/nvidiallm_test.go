package nvidia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/ragbridge/llms/openaiutil"
	"github.com/smallnest/ragbridge/rag"
)

const completionBody = `{
	"id": "chatcmpl-4162e407",
	"object": "chat.completion",
	"created": 1713474384,
	"model": "mistralai/mistral-7b-instruct-v0.2",
	"usage": {"completion_tokens": 304, "prompt_tokens": 11, "total_tokens": 315},
	"choices": [{
		"finish_reason": "stop",
		"index": 0,
		"logprobs": {"content": [
			{"token": "Cool", "logprob": -0.1, "top_logprobs": [{"token": "Cool", "logprob": -0.1}]},
			{"token": " Test", "logprob": -0.2, "top_logprobs": null}
		]},
		"message": {"content": "Cool Test Message", "role": "assistant"}
	}]
}`

var streamChunks = []string{"Test", "Second Test"}

func newServer(t *testing.T, requests *[]openai.ChatCompletionRequest) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if requests != nil {
			*requests = append(*requests, req)
		}

		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(completionBody))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range streamChunks {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"google/gemma-7b\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":%q}}]}\n\n", c)
		}
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object":"list","data":[{"id":"meta/llama3-8b-instruct"},{"id":"google/gemma-7b"}]}`))
	})
	return httptest.NewServer(mux)
}

// TestLLM_Create tests the LLM creation with various options.
func TestLLM_Create(t *testing.T) {
	t.Setenv(apiKeyEnv, "")

	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{name: "with api key", opts: []Option{WithAPIKey("nvapi-key")}},
		{name: "with api key and model", opts: []Option{WithAPIKey("k"), WithModel("google/gemma-7b")}},
		{name: "no api key", wantErr: true},
		{name: "nim without key", opts: []Option{WithMode(ModeNIM, "http://localhost:8000/v1")}},
		{name: "nim without url", opts: []Option{WithMode(ModeNIM, "")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm, err := New(tt.opts...)
			if tt.wantErr {
				assert.True(t, rag.IsConfigError(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, llm)
		})
	}

	t.Run("env key", func(t *testing.T) {
		t.Setenv(apiKeyEnv, "nvai-env")
		_, err := New()
		assert.NoError(t, err)
	})
}

func TestLLM_Basic(t *testing.T) {
	server := newServer(t, nil)
	defer server.Close()

	llm, err := New(WithAPIKey("k"), WithMode(ModeNVIDIA, server.URL+"/v1"))
	require.NoError(t, err)
	ctx := context.Background()

	text, err := llm.Complete(ctx, "test prompt")
	require.NoError(t, err)
	assert.Equal(t, "Cool Test Message", text)

	msg, err := llm.Chat(ctx, []openaiutil.ChatMessage{{Role: openaiutil.RoleUser, Content: "test message"}})
	require.NoError(t, err)
	assert.Equal(t, "Cool Test Message", msg.Content)
	assert.Equal(t, openaiutil.RoleAssistant, msg.Role)

	resp, err := llm.GenerateContentAsync(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "test message"),
	}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Cool Test Message", resp.Choices[0].Content)
	assert.Equal(t, "stop", resp.Choices[0].StopReason)
	assert.Equal(t, 315, resp.Choices[0].GenerationInfo["TotalTokens"])
	assert.NotContains(t, resp.Choices[0].GenerationInfo, "logprobs")

	achat, err := llm.ChatAsync(ctx, []openaiutil.ChatMessage{{Role: openaiutil.RoleUser, Content: "hi"}}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Cool Test Message", achat.Content)

	models, err := llm.AvailableModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"meta/llama3-8b-instruct", "google/gemma-7b"}, models)
}

func TestLLM_Streaming(t *testing.T) {
	server := newServer(t, nil)
	defer server.Close()

	llm, err := New(WithAPIKey("k"), WithMode(ModeNVIDIA, server.URL+"/v1"))
	require.NoError(t, err)

	var chunks []string
	resp, err := llm.GenerateContent(context.Background(),
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "test prompt")},
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			chunks = append(chunks, string(chunk))
			return nil
		}))
	require.NoError(t, err)
	assert.Equal(t, streamChunks, chunks)
	assert.Equal(t, "TestSecond Test", resp.Choices[0].Content)
	assert.Equal(t, "assistant", resp.Choices[0].GenerationInfo["role"])
	assert.Equal(t, "stop", resp.Choices[0].StopReason)

	msg, err := llm.Chat(context.Background(),
		[]openaiutil.ChatMessage{{Role: openaiutil.RoleUser, Content: "test message"}},
		llms.WithStreamingFunc(func(context.Context, []byte) error { return nil }))
	require.NoError(t, err)
	assert.Equal(t, "TestSecond Test", msg.Content)
	assert.Equal(t, openaiutil.RoleAssistant, msg.Role)
}

func TestLLM_LogprobsAndOptions(t *testing.T) {
	var requests []openai.ChatCompletionRequest
	server := newServer(t, &requests)
	defer server.Close()

	llm, err := New(WithAPIKey("k"), WithMode(ModeNVIDIA, server.URL+"/v1"), WithLogprobs(2))
	require.NoError(t, err)

	resp, err := llm.GenerateContent(context.Background(),
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hi")},
		llms.WithMaxTokens(64), llms.WithStopWords([]string{"\n"}), llms.WithModel("google/gemma-7b"))
	require.NoError(t, err)

	lps, ok := resp.Choices[0].GenerationInfo["logprobs"].([][]openaiutil.LogProb)
	require.True(t, ok)
	require.Len(t, lps, 2)
	assert.Equal(t, []openaiutil.LogProb{{Token: "Cool", LogProb: -0.1}}, lps[0])
	assert.NotNil(t, lps[1])
	assert.Empty(t, lps[1])

	require.Len(t, requests, 1)
	assert.True(t, requests[0].LogProbs)
	assert.Equal(t, 2, requests[0].TopLogProbs)
	assert.Equal(t, 64, requests[0].MaxTokens)
	assert.Equal(t, []string{"\n"}, requests[0].Stop)
	assert.Equal(t, "google/gemma-7b", requests[0].Model)
}

type llmEvents struct {
	callbacks.SimpleHandler
	starts, ends, errs int
}

func (h *llmEvents) HandleLLMGenerateContentStart(context.Context, []llms.MessageContent) { h.starts++ }
func (h *llmEvents) HandleLLMGenerateContentEnd(context.Context, *llms.ContentResponse)   { h.ends++ }
func (h *llmEvents) HandleLLMError(context.Context, error)                                { h.errs++ }

func TestLLM_Callbacks(t *testing.T) {
	server := newServer(t, nil)
	defer server.Close()

	h := &llmEvents{}
	llm, err := New(WithAPIKey("k"), WithMode(ModeNVIDIA, server.URL+"/v1"), WithCallbacks(h))
	require.NoError(t, err)

	_, err = llm.Call(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, h.starts)
	assert.Equal(t, 1, h.ends)

	bad, err := New(WithAPIKey("k"), WithMode(ModeNVIDIA, server.URL+"/missing"), WithCallbacks(h), WithMaxRetries(0))
	require.NoError(t, err)
	_, err = bad.Call(context.Background(), "hi")
	assert.Error(t, err)
	assert.Equal(t, 1, h.errs)
}

func TestLLM_Metadata(t *testing.T) {
	llm, err := New(WithAPIKey("k"))
	require.NoError(t, err)

	md := llm.Metadata()
	assert.Equal(t, DefaultModel, md.ModelName)
	assert.Equal(t, 8192, md.ContextWindow)
	assert.True(t, md.IsChatModel)
	assert.False(t, md.IsFunctionCallingModel)

	llm, err = New(WithAPIKey("k"), WithModel("meta/llama-3.1-70b-instruct"))
	require.NoError(t, err)
	assert.True(t, llm.Metadata().IsFunctionCallingModel)

	llm, err = New(WithAPIKey("k"), WithModel("some/unknown-model"))
	require.NoError(t, err)
	assert.Equal(t, defaultContextWindow, llm.Metadata().ContextWindow)
}

// TestLLM_GenerateContent tests the content generation with real API.
// Skipped if NVIDIA_API_KEY is not set.
func TestLLM_GenerateContent(t *testing.T) {
	if os.Getenv(apiKeyEnv) == "" {
		t.Skip("NVIDIA_API_KEY not set")
	}

	llm, err := New()
	require.NoError(t, err)

	text, err := llm.Call(context.Background(), "Say hello in one word.")
	require.NoError(t, err)
	assert.NotEmpty(t, text)
}
