// Package tokenizer provides the per-model token counter the InferenceParser
// uses to compute input/output/reasoning sequence-length metrics.
package tokenizer

import (
	"strings"
	"sync"
)

// Tokenizer counts tokens in a piece of text for one model.
type Tokenizer interface {
	Count(text string) int
}

// WhitespaceTokenizer is a dependency-free stand-in for a real subword
// tokenizer: it counts whitespace-delimited words. Good enough to exercise
// the sequence-length metrics without vendoring a model-specific vocabulary.
type WhitespaceTokenizer struct{}

func (WhitespaceTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

// Cache lazily builds and caches one Tokenizer per model name behind a
// mutex, so concurrent parser goroutines share a single instance per model
// (spec.md §4.5: "a tokenizer may be expensive to construct; construct it
// once per model name, not once per record").
type Cache struct {
	mu    sync.Mutex
	byName map[string]Tokenizer
	build func(modelName string) Tokenizer
}

// NewCache builds a Cache using build to construct a Tokenizer the first
// time a given model name is requested. Pass nil to use WhitespaceTokenizer
// for every model.
func NewCache(build func(modelName string) Tokenizer) *Cache {
	if build == nil {
		build = func(string) Tokenizer { return WhitespaceTokenizer{} }
	}
	return &Cache{byName: make(map[string]Tokenizer), build: build}
}

// Get returns the cached Tokenizer for modelName, building it on first use.
func (c *Cache) Get(modelName string) Tokenizer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.byName[modelName]; ok {
		return t
	}
	t := c.build(modelName)
	c.byName[modelName] = t
	return t
}
