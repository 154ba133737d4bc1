package openaiutil

import (
	"fmt"
	"strings"
)

var contextSizes = map[string]int{
	"gpt-4.1":                1047576,
	"gpt-4.1-mini":           1047576,
	"gpt-4.1-nano":           1047576,
	"o3":                     200000,
	"o3-mini":                200000,
	"o4-mini":                200000,
	"o1":                     200000,
	"o1-mini":                128000,
	"o1-preview":             128000,
	"gpt-4o":                 128000,
	"gpt-4o-mini":            128000,
	"gpt-4-turbo":            128000,
	"gpt-4-0125":             128000,
	"gpt-4-1106":             128000,
	"gpt-4-32k":              32768,
	"gpt-4":                  8192,
	"gpt-3.5-turbo":          16385,
	"gpt-35-turbo":           16385,
	"gpt-3.5-turbo-instruct": 4096,
	"text-davinci-003":       4097,
	"davinci-002":            16384,
	"babbage-002":            16384,
}

var completionModels = map[string]bool{
	"gpt-3.5-turbo-instruct": true,
	"text-davinci-003":       true,
	"davinci-002":            true,
	"babbage-002":            true,
}

var noFunctionCalling = map[string]bool{
	"gpt-4-0314":         true,
	"gpt-4-32k-0314":     true,
	"gpt-3.5-turbo-0301": true,
	"o1-mini":            true,
	"o1-preview":         true,
}

// baseModel strips a fine-tune wrapper such as "ft:gpt-4o:org::id".
func baseModel(model string) string {
	if strings.HasPrefix(model, "ft:") {
		model = strings.Split(model, ":")[1]
	} else if strings.HasSuffix(model, ":ft") || strings.Contains(model, ":ft-") {
		model = strings.Split(model, ":")[0]
	}
	return model
}

// ContextSize returns the context window of an OpenAI model. Dated snapshots
// resolve to their family, e.g. gpt-4o-2024-08-06 to gpt-4o.
func ContextSize(model string) (int, error) {
	name := baseModel(model)
	if size, ok := contextSizes[name]; ok {
		return size, nil
	}

	best := ""
	for prefix := range contextSizes {
		if strings.HasPrefix(name, prefix+"-") && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return 0, fmt.Errorf("unknown model %q: pass the context window explicitly", model)
	}
	return contextSizes[best], nil
}

// IsChatModel reports whether model is served by the chat completions endpoint.
func IsChatModel(model string) bool {
	return !completionModels[baseModel(model)]
}

// IsFunctionCallingModel reports whether model accepts tools.
func IsFunctionCallingModel(model string) bool {
	name := baseModel(model)
	return IsChatModel(name) && !noFunctionCalling[name]
}
