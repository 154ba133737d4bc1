package nvidia

import (
	"strings"

	"github.com/smallnest/ragbridge/llms/openaiutil"
)

const defaultContextWindow = 4096

var contextWindows = map[string]int{
	"meta/llama3-8b-instruct":              8192,
	"meta/llama3-70b-instruct":             8192,
	"meta/llama-3.1-8b-instruct":           131072,
	"meta/llama-3.1-70b-instruct":          131072,
	"meta/llama-3.1-405b-instruct":         131072,
	"mistralai/mistral-7b-instruct-v0.2":   32768,
	"mistralai/mixtral-8x7b-instruct-v0.1": 32768,
	"mistralai/mistral-large":              32768,
	"google/gemma-7b":                      8192,
	"nvidia/nemotron-4-340b-instruct":      4096,
}

var functionCallingModels = map[string]bool{
	"meta/llama-3.1-8b-instruct":   true,
	"meta/llama-3.1-70b-instruct":  true,
	"meta/llama-3.1-405b-instruct": true,
	"mistralai/mistral-large":      true,
}

// Metadata describes the configured model.
type Metadata struct {
	ModelName              string
	ContextWindow          int
	NumOutputTokens        int
	IsChatModel            bool
	IsFunctionCallingModel bool
}

func contextWindow(model string) int {
	if n, ok := contextWindows[model]; ok {
		return n
	}
	if n, err := openaiutil.ContextSize(model); err == nil {
		return n
	}
	return defaultContextWindow
}

func isFunctionCalling(model string) bool {
	if functionCallingModels[model] {
		return true
	}
	// OpenAI names are served unchanged by some NIM gateways
	if _, err := openaiutil.ContextSize(model); err != nil || strings.Contains(model, "/") {
		return false
	}
	return openaiutil.IsFunctionCallingModel(model)
}
