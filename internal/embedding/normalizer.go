package embedding

import "strings"

// Normalizer rewrites input text before it is sent to the provider.
type Normalizer interface {
	Normalize(text string) string
}

// NormalizerFunc adapts a function to Normalizer.
type NormalizerFunc func(string) string

func (f NormalizerFunc) Normalize(text string) string { return f(text) }

// DefaultNormalizer lowercases text and collapses every whitespace run into one space.
var DefaultNormalizer Normalizer = NormalizerFunc(func(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
})

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// collapseNewlines is the preprocessing fallback when normalization empties the text.
func collapseNewlines(text string) string {
	return newlineReplacer.Replace(text)
}
