package kdbai

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// SparseEncoder turns texts into sparse vectors, one per text.
type SparseEncoder func(texts []string) []SparseVector

// sparseVocabSize matches the BERT uncased vocabulary the server side
// tokenizers use, so hashed ids fall in the same range.
const sparseVocabSize = 30522

// HashingSparseEncoder counts lower-cased word tokens, hashed into
// [0, 30522).
func HashingSparseEncoder(texts []string) []SparseVector {
	out := make([]SparseVector, len(texts))
	for i, text := range texts {
		vec := SparseVector{}
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		for _, tok := range tokens {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[int(h.Sum32()%sparseVocabSize)]++
		}
		out[i] = vec
	}
	return out
}
