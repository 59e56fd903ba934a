package parser

import (
	"encoding/json"
	"strings"

	"github.com/aiperf/aiperf-go/pkg/model"
	"github.com/aiperf/aiperf-go/pkg/worker/sse"
)

// dispatch extracts zero or more ParsedResponses from one
// InferenceServerResponse, picking the extractor for endpointType.
// Unsupported endpoint types produce no responses rather than an error, so
// a run exercising a type nobody has written an extractor for still
// completes and surfaces latency/error metrics, just not token counts
// (spec.md §4.6 edge case: "never fail a record solely because its body
// couldn't be parsed").
func dispatch(endpointType model.EndpointType, resp model.InferenceServerResponse) []model.ParsedResponse {
	switch endpointType {
	case model.EndpointChatCompletions:
		return dispatchJSONOrSSE(resp, parseChatCompletionJSON, parseChatCompletionChunk)
	case model.EndpointCompletions:
		return dispatchJSONOrSSE(resp, parseCompletionJSON, parseCompletionChunk)
	case model.EndpointEmbeddings:
		if resp.Text == nil {
			return nil
		}
		return parseEmbeddingsJSON(resp.Text.PerfNS, resp.Text.Text)
	case model.EndpointRankingsOpenAI:
		if resp.Text == nil {
			return nil
		}
		return parseRankingsOpenAIJSON(resp.Text.PerfNS, resp.Text.Text)
	case model.EndpointRankingsCohere:
		if resp.Text == nil {
			return nil
		}
		return parseRankingsCohereJSON(resp.Text.PerfNS, resp.Text.Text)
	case model.EndpointHFGenerate:
		if resp.Text == nil {
			return nil
		}
		return parseHFGenerateJSON(resp.Text.PerfNS, resp.Text.Text)
	case model.EndpointHFGenerateStream:
		return dispatchSSE(resp, parseHFGenerateStreamChunk)
	default:
		return nil
	}
}

func dispatchJSONOrSSE(resp model.InferenceServerResponse, parseJSON func(int64, string) []model.ParsedResponse, parseChunk func(sseData string) (model.ParsedResponseData, bool)) []model.ParsedResponse {
	if resp.Text != nil {
		return parseJSON(resp.Text.PerfNS, resp.Text.Text)
	}
	return dispatchSSE(resp, parseChunk)
}

func dispatchSSE(resp model.InferenceServerResponse, parseChunk func(sseData string) (model.ParsedResponseData, bool)) []model.ParsedResponse {
	var out []model.ParsedResponse
	for _, msg := range resp.SSE {
		if sse.IsDone(msg) {
			continue
		}
		data := sse.DataText(msg)
		if strings.TrimSpace(data) == "" {
			continue
		}
		parsed, ok := parseChunk(data)
		if !ok {
			continue
		}
		out = append(out, model.ParsedResponse{PerfNS: msg.PerfNS, Data: parsed})
	}
	return out
}

// --- chat completions ---

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
}

func parseChatCompletionJSON(perfNS int64, text string) []model.ParsedResponse {
	var r chatCompletionResponse
	if err := json.Unmarshal([]byte(text), &r); err != nil || len(r.Choices) == 0 {
		return nil
	}
	var out []model.ParsedResponse
	if c := r.Choices[0].Message.Content; c != "" {
		out = append(out, model.ParsedResponse{PerfNS: perfNS, Data: model.ParsedResponseData{Kind: model.ResponseText, Text: c}})
	}
	if rc := r.Choices[0].Message.ReasoningContent; rc != "" {
		out = append(out, model.ParsedResponse{PerfNS: perfNS, Data: model.ParsedResponseData{Kind: model.ResponseReasoning, Reasoning: rc}})
	}
	return out
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
}

func parseChatCompletionChunk(data string) (model.ParsedResponseData, bool) {
	var c chatCompletionChunk
	if err := json.Unmarshal([]byte(data), &c); err != nil || len(c.Choices) == 0 {
		return model.ParsedResponseData{}, false
	}
	if rc := c.Choices[0].Delta.ReasoningContent; rc != "" {
		return model.ParsedResponseData{Kind: model.ResponseReasoning, Reasoning: rc}, true
	}
	if txt := c.Choices[0].Delta.Content; txt != "" {
		return model.ParsedResponseData{Kind: model.ResponseText, Text: txt}, true
	}
	return model.ParsedResponseData{}, false
}

// --- legacy completions ---

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

func parseCompletionJSON(perfNS int64, text string) []model.ParsedResponse {
	var r completionResponse
	if err := json.Unmarshal([]byte(text), &r); err != nil || len(r.Choices) == 0 {
		return nil
	}
	if r.Choices[0].Text == "" {
		return nil
	}
	return []model.ParsedResponse{{PerfNS: perfNS, Data: model.ParsedResponseData{Kind: model.ResponseText, Text: r.Choices[0].Text}}}
}

func parseCompletionChunk(data string) (model.ParsedResponseData, bool) {
	var r completionResponse
	if err := json.Unmarshal([]byte(data), &r); err != nil || len(r.Choices) == 0 || r.Choices[0].Text == "" {
		return model.ParsedResponseData{}, false
	}
	return model.ParsedResponseData{Kind: model.ResponseText, Text: r.Choices[0].Text}, true
}

// --- embeddings ---

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	// Fallback shapes some servers use instead of the OpenAI data[] form
	// (spec.md §4.6).
	Embeddings [][]float64 `json:"embeddings"`
	Embedding  []float64   `json:"embedding"`
}

func parseEmbeddingsJSON(perfNS int64, text string) []model.ParsedResponse {
	var r embeddingsResponse
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil
	}
	var embeds [][]float64
	switch {
	case len(r.Data) > 0:
		embeds = make([][]float64, len(r.Data))
		for i, d := range r.Data {
			embeds[i] = d.Embedding
		}
	case len(r.Embeddings) > 0:
		embeds = r.Embeddings
	case len(r.Embedding) > 0:
		embeds = [][]float64{r.Embedding}
	default:
		return nil
	}
	return []model.ParsedResponse{{PerfNS: perfNS, Data: model.ParsedResponseData{Kind: model.ResponseEmbedding, Embeddings: embeds}}}
}

// --- rankings: OpenAI shape ---

type rankingsOpenAIResponse struct {
	Rankings []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"rankings"`
}

func parseRankingsOpenAIJSON(perfNS int64, text string) []model.ParsedResponse {
	var r rankingsOpenAIResponse
	if err := json.Unmarshal([]byte(text), &r); err != nil || len(r.Rankings) == 0 {
		return nil
	}
	results := make([]model.RankingResult, len(r.Rankings))
	for i, rk := range r.Rankings {
		results[i] = model.RankingResult{Index: rk.Index, RelevanceScore: rk.RelevanceScore}
	}
	return []model.ParsedResponse{{PerfNS: perfNS, Data: model.ParsedResponseData{Kind: model.ResponseRanking, Rankings: results}}}
}

// --- rankings: Cohere shape ---

type rankingsCohereResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func parseRankingsCohereJSON(perfNS int64, text string) []model.ParsedResponse {
	var r rankingsCohereResponse
	if err := json.Unmarshal([]byte(text), &r); err != nil || len(r.Results) == 0 {
		return nil
	}
	results := make([]model.RankingResult, len(r.Results))
	for i, rk := range r.Results {
		results[i] = model.RankingResult{Index: rk.Index, RelevanceScore: rk.RelevanceScore}
	}
	return []model.ParsedResponse{{PerfNS: perfNS, Data: model.ParsedResponseData{Kind: model.ResponseRanking, Rankings: results}}}
}

// --- HuggingFace TGI ---

type hfGenerateResponse struct {
	GeneratedText string `json:"generated_text"`
}

func parseHFGenerateJSON(perfNS int64, text string) []model.ParsedResponse {
	// TGI's non-streaming /generate returns either an object or a
	// single-element array of objects depending on server version.
	var single hfGenerateResponse
	if err := json.Unmarshal([]byte(text), &single); err == nil && single.GeneratedText != "" {
		return []model.ParsedResponse{{PerfNS: perfNS, Data: model.ParsedResponseData{Kind: model.ResponseText, Text: single.GeneratedText}}}
	}
	var arr []hfGenerateResponse
	if err := json.Unmarshal([]byte(text), &arr); err == nil && len(arr) > 0 && arr[0].GeneratedText != "" {
		return []model.ParsedResponse{{PerfNS: perfNS, Data: model.ParsedResponseData{Kind: model.ResponseText, Text: arr[0].GeneratedText}}}
	}
	return nil
}

type hfGenerateStreamChunk struct {
	Token struct {
		Text string `json:"text"`
	} `json:"token"`
}

func parseHFGenerateStreamChunk(data string) (model.ParsedResponseData, bool) {
	var c hfGenerateStreamChunk
	if err := json.Unmarshal([]byte(data), &c); err != nil || c.Token.Text == "" {
		return model.ParsedResponseData{}, false
	}
	return model.ParsedResponseData{Kind: model.ResponseText, Text: c.Token.Text}, true
}
