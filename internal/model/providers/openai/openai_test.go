package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	kaiwaErrors "github.com/kaiwa-cli/kaiwa/internal/errors"
	"github.com/kaiwa-cli/kaiwa/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("test-key", srv.URL, "gpt-4o", nil)
}

func textRequest(text string) contract.GenerationRequest {
	return contract.GenerationRequest{Contents: []contract.Turn{
		{Role: contract.RoleUser, Parts: []contract.Part{{Text: text}}},
	}}
}

func TestGenerateContent_Text(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])

		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"completion_tokens":3}}`)
	}))

	resp, err := p.GenerateContent(t.Context(), textRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, contract.FinishReasonStop, resp.Candidates[0].FinishReason)
	assert.Equal(t, 3, resp.Candidates[0].TokenCount)
}

func TestGenerateContent_ToolCallArgsDecoded(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ignored","tool_calls":[{"id":"c1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Kyoto\"}"}}]},"finish_reason":"tool_calls"}]}`)
	}))

	resp, err := p.GenerateContent(t.Context(), textRequest("weather?"))
	require.NoError(t, err)

	require.Len(t, resp.Candidates[0].Parts, 1)
	call := resp.Candidates[0].Parts[0].FunctionCall
	require.NotNil(t, call)
	assert.Equal(t, "get_weather", call.Name)
	assert.Equal(t, map[string]any{"city": "Kyoto"}, call.Args)
	assert.Empty(t, resp.Text)
}

func TestGenerateContent_LengthMapsToMaxTokens(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"trunc"},"finish_reason":"length"}]}`)
	}))

	resp, err := p.GenerateContent(t.Context(), textRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, contract.FinishReasonMaxTokens, resp.Candidates[0].FinishReason)
}

func TestGenerateContentStream_YieldsDeltasInOrder(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	var texts []string
	var last contract.FinishReason
	for resp, err := range p.GenerateContentStream(t.Context(), textRequest("hi")) {
		require.NoError(t, err)
		texts = append(texts, resp.Text)
		last = resp.Candidates[0].FinishReason
	}
	assert.Equal(t, []string{"Hel", "lo", ""}, texts)
	assert.Equal(t, contract.FinishReasonStop, last)
}

func TestGenerateContentStream_EarlyBreakIsSafe(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	var count int
	for _, err := range p.GenerateContentStream(t.Context(), textRequest("hi")) {
		require.NoError(t, err)
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestCountTokens_CharacterEstimate(t *testing.T) {
	p := New("k", "", "gpt-4o", nil)

	got, err := p.CountTokens(t.Context(), contract.TextPrompt("abcdefg"))
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalTokens) // ceil(7/3.5)
	assert.NotEmpty(t, got.Warning)
}

func TestEmbedContent(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		fmt.Fprint(w, `{"data":[{"embedding":[0.5,0.5]}]}`)
	}))

	vec, err := p.EmbedContent(t.Context(), contract.TextPrompt("some text"))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vec)
}

func TestEmbedContent_EmptyPromptRejected(t *testing.T) {
	p := New("k", "", "gpt-4o", nil)

	_, err := p.EmbedContent(t.Context(), contract.TextPrompt("  "))
	require.Error(t, err)
	assert.True(t, kaiwaErrors.IsCategory(err, kaiwaErrors.ErrInvalidInput))
}
