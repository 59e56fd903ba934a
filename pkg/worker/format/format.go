// Package format builds the endpoint-specific HTTP request body and path
// for each supported inference API shape (spec.md §4.5). One function per
// EndpointType, mirroring how InferenceParser (pkg/parser) dispatches on
// the same enum for responses.
package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiperf/aiperf-go/pkg/model"
)

// Request builds the JSON request body for one turn against info, merging
// in info.ExtraPayload last so user-declared overrides win.
func Request(info model.ModelEndpointInfo, modelName string, turn model.Turn) ([]byte, error) {
	var body map[string]any
	switch info.Type {
	case model.EndpointChatCompletions:
		body = chatCompletions(modelName, turn, info.Streaming)
	case model.EndpointCompletions:
		body = completions(modelName, turn, info.Streaming)
	case model.EndpointEmbeddings:
		body = embeddings(modelName, turn)
	case model.EndpointRankingsOpenAI:
		body = rankingsOpenAI(modelName, turn)
	case model.EndpointRankingsCohere:
		body = rankingsCohere(modelName, turn)
	case model.EndpointHFGenerate, model.EndpointHFGenerateStream:
		body = hfGenerate(turn, info.Type == model.EndpointHFGenerateStream)
	default:
		return nil, fmt.Errorf("format: unsupported endpoint type %q", info.Type)
	}
	if turn.MaxTokens != nil {
		applyMaxTokens(info.Type, body, *turn.MaxTokens)
	}
	for k, v := range info.ExtraPayload {
		body[k] = v
	}
	return json.Marshal(body)
}

// Path returns the request path for info, preferring CustomPath when set.
func Path(info model.ModelEndpointInfo) string {
	if info.CustomPath != "" {
		return info.CustomPath
	}
	switch info.Type {
	case model.EndpointChatCompletions:
		return "/v1/chat/completions"
	case model.EndpointCompletions:
		return "/v1/completions"
	case model.EndpointEmbeddings:
		return "/v1/embeddings"
	case model.EndpointRankingsOpenAI:
		return "/v1/rankings"
	case model.EndpointRankingsCohere:
		return "/v1/rerank"
	case model.EndpointHFGenerate, model.EndpointHFGenerateStream:
		return "/generate"
	default:
		return "/"
	}
}

// Headers builds the header set for one request: auth headers, then
// custom headers layered on top (custom wins on collision).
func Headers(info model.ModelEndpointInfo) map[string]string {
	h := make(map[string]string, len(info.AuthHeaders)+len(info.CustomHeaders)+2)
	h["Content-Type"] = "application/json"
	if info.APIKey != "" {
		h["Authorization"] = "Bearer " + info.APIKey
	}
	for k, v := range info.AuthHeaders {
		h[k] = v
	}
	for k, v := range info.CustomHeaders {
		h[k] = v
	}
	return h
}

func joinTexts(turn model.Turn, name string) string {
	var parts []string
	for _, t := range turn.Texts {
		if name != "" && t.Name != name {
			continue
		}
		parts = append(parts, t.Contents...)
	}
	return strings.Join(parts, " ")
}

func namedTexts(turn model.Turn, name string) []string {
	for _, t := range turn.Texts {
		if t.Name == name {
			return t.Contents
		}
	}
	return nil
}

func chatCompletions(modelName string, turn model.Turn, stream bool) map[string]any {
	return map[string]any{
		"model": modelName,
		"messages": []map[string]any{
			{"role": "user", "content": joinTexts(turn, "")},
		},
		"stream": stream,
	}
}

func completions(modelName string, turn model.Turn, stream bool) map[string]any {
	return map[string]any{
		"model":  modelName,
		"prompt": joinTexts(turn, ""),
		"stream": stream,
	}
}

func embeddings(modelName string, turn model.Turn) map[string]any {
	return map[string]any{
		"model": modelName,
		"input": joinTexts(turn, ""),
	}
}

func rankingsOpenAI(modelName string, turn model.Turn) map[string]any {
	query := joinTexts(turn, "query")
	docs := namedTexts(turn, "documents")
	if len(docs) == 0 {
		docs = namedTexts(turn, "")
	}
	return map[string]any{
		"model":     modelName,
		"query":     query,
		"documents": docs,
	}
}

func rankingsCohere(modelName string, turn model.Turn) map[string]any {
	query := joinTexts(turn, "query")
	docs := namedTexts(turn, "documents")
	if len(docs) == 0 {
		docs = namedTexts(turn, "")
	}
	return map[string]any{
		"model":     modelName,
		"query":     query,
		"documents": docs,
	}
}

func hfGenerate(turn model.Turn, stream bool) map[string]any {
	return map[string]any{
		"inputs":  joinTexts(turn, ""),
		"stream":  stream,
		"stream_options": map[string]any{"enabled": stream},
	}
}

func applyMaxTokens(t model.EndpointType, body map[string]any, maxTokens int) {
	switch t {
	case model.EndpointChatCompletions, model.EndpointCompletions:
		body["max_tokens"] = maxTokens
	case model.EndpointHFGenerate, model.EndpointHFGenerateStream:
		params, _ := body["parameters"].(map[string]any)
		if params == nil {
			params = map[string]any{}
		}
		params["max_new_tokens"] = maxTokens
		body["parameters"] = params
	}
}
