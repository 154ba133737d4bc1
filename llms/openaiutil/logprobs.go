package openaiutil

import (
	"cmp"
	"slices"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// LogProb is one candidate token with its log probability.
type LogProb struct {
	Token   string
	LogProb float64
	Bytes   []byte
}

// FromOpenAITokenLogprob returns the top alternatives for one chat token.
// Missing alternatives give an empty slice.
func FromOpenAITokenLogprob(lp openai.LogProb) []LogProb {
	out := make([]LogProb, 0, len(lp.TopLogProbs))
	for _, top := range lp.TopLogProbs {
		out = append(out, LogProb{Token: top.Token, LogProb: top.LogProb, Bytes: top.Bytes})
	}
	return out
}

// FromOpenAITokenLogprobs maps each chat token to its top alternatives.
func FromOpenAITokenLogprobs(lps []openai.LogProb) [][]LogProb {
	out := make([][]LogProb, 0, len(lps))
	for _, lp := range lps {
		out = append(out, FromOpenAITokenLogprob(lp))
	}
	return out
}

// FromOpenAILogProbs is FromOpenAITokenLogprobs for a choice's logprobs field,
// which is nil when logprobs were not requested.
func FromOpenAILogProbs(lps *openai.LogProbs) [][]LogProb {
	if lps == nil {
		return [][]LogProb{}
	}
	return FromOpenAITokenLogprobs(lps.Content)
}

// FromOpenAICompletionLogprobs maps the legacy completion logprobs, one
// slice of alternatives per generated token, most likely first.
func FromOpenAICompletionLogprobs(res openai.LogprobResult) [][]LogProb {
	out := make([][]LogProb, 0, len(res.TopLogprobs))
	for _, top := range res.TopLogprobs {
		alts := make([]LogProb, 0, len(top))
		for token, lp := range top {
			alts = append(alts, LogProb{Token: token, LogProb: float64(lp)})
		}
		slices.SortFunc(alts, func(a, b LogProb) int {
			return cmp.Or(cmp.Compare(b.LogProb, a.LogProb), strings.Compare(a.Token, b.Token))
		})
		out = append(out, alts)
	}
	return out
}
