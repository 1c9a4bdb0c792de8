package ollama

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	kaiwaErrors "github.com/kaiwa-cli/kaiwa/internal/errors"
	"github.com/kaiwa-cli/kaiwa/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func testTranslator(t *testing.T, handler http.Handler) *Translator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTranslator("llama3.2", NewClient(srv.URL, 5*time.Second, nil, false), nil)
}

func textRequest(texts ...string) contract.GenerationRequest {
	var turns []contract.Turn
	role := contract.RoleUser
	for _, text := range texts {
		turns = append(turns, contract.Turn{Role: role, Parts: []contract.Part{{Text: text}}})
		if role == contract.RoleUser {
			role = contract.RoleModel
		} else {
			role = contract.RoleUser
		}
	}
	return contract.GenerationRequest{Contents: turns}
}

func TestGenerateContent_ContextReplacedNotMerged(t *testing.T) {
	call := 0
	tr := testTranslator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		var params GenerateParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))

		switch call {
		case 1:
			assert.Empty(t, params.Context)
			fmt.Fprint(w, `{"response":"one","done":true,"done_reason":"stop","context":[1,2,3]}`)
		case 2:
			assert.Equal(t, []int{1, 2, 3}, params.Context)
			fmt.Fprint(w, `{"response":"two","done":true,"done_reason":"stop","context":[4,5,6]}`)
		}
	}))

	_, err := tr.GenerateContent(t.Context(), textRequest("first"))
	require.NoError(t, err)
	_, err = tr.GenerateContent(t.Context(), textRequest("second"))
	require.NoError(t, err)

	assert.Equal(t, []int{4, 5, 6}, tr.chatContext)
	assert.Equal(t, 2, call)
}

func TestGenerateContent_PromptUsesOnlyLastTurn(t *testing.T) {
	tr := testTranslator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params GenerateParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "third", params.Prompt)
		fmt.Fprint(w, `{"response":"ok","done":true,"done_reason":"stop"}`)
	}))

	_, err := tr.GenerateContent(t.Context(), textRequest("first", "second", "third"))
	require.NoError(t, err)
}

func TestGenerateContent_SamplingOptionsMapFieldByField(t *testing.T) {
	tr := testTranslator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params GenerateParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		require.NotNil(t, params.Options)
		assert.Equal(t, 0.7, *params.Options.Temperature)
		assert.Equal(t, 0.9, *params.Options.TopP)
		assert.Equal(t, 40, *params.Options.TopK)
		assert.Equal(t, 256, *params.Options.NumPredict)
		assert.Equal(t, []string{"END"}, params.Options.Stop)
		fmt.Fprint(w, `{"response":"ok","done":true,"done_reason":"stop"}`)
	}))

	req := textRequest("hello")
	req.Config = &contract.GenerationConfig{
		Temperature:     floatPtr(0.7),
		TopP:            floatPtr(0.9),
		TopK:            intPtr(40),
		MaxOutputTokens: intPtr(256),
		StopSequences:   []string{"END"},
	}
	_, err := tr.GenerateContent(t.Context(), req)
	require.NoError(t, err)
}

func TestGenerateContent_ToolDeclarationsMapFirstFunctionOnly(t *testing.T) {
	tr := testTranslator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params GenerateParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		require.Len(t, params.Tools, 1)
		assert.Equal(t, "function", params.Tools[0].Type)
		assert.Equal(t, "get_weather", params.Tools[0].Function.Name)
		fmt.Fprint(w, `{"response":"ok","done":true,"done_reason":"stop"}`)
	}))

	req := textRequest("weather?")
	req.Tools = []contract.ToolDef{
		{FunctionDeclarations: []contract.FunctionDeclaration{
			{Name: "get_weather", Description: "weather lookup"},
			{Name: "second_declaration_dropped"},
		}},
		{}, // no declarations, dropped entirely
	}
	_, err := tr.GenerateContent(t.Context(), req)
	require.NoError(t, err)
}

func TestGenerateContent_ToolCallsExcludeText(t *testing.T) {
	tr := testTranslator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":"ignored text","done":true,"done_reason":"stop","tool_calls":[{"function":{"name":"get_weather","arguments":{"city":"Kyoto"}}}]}`)
	}))

	resp, err := tr.GenerateContent(t.Context(), textRequest("weather?"))
	require.NoError(t, err)

	require.Len(t, resp.Candidates, 1)
	candidate := resp.Candidates[0]
	require.Len(t, candidate.Parts, 1)
	require.NotNil(t, candidate.Parts[0].FunctionCall)
	assert.Equal(t, "get_weather", candidate.Parts[0].FunctionCall.Name)
	assert.Equal(t, map[string]any{"city": "Kyoto"}, candidate.Parts[0].FunctionCall.Args)
	assert.Empty(t, candidate.Parts[0].Text)
	assert.Empty(t, resp.Text)
}

func TestGenerateContent_TokenCountCopiedVerbatim(t *testing.T) {
	tr := testTranslator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":"hi","done":true,"done_reason":"stop","eval_count":42}`)
	}))

	resp, err := tr.GenerateContent(t.Context(), textRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, 42, resp.Candidates[0].TokenCount)
}

func TestGenerateContentStream_FinishReasonMapping(t *testing.T) {
	cases := []struct {
		name string
		line string
		want contract.FinishReason
	}{
		{"not done", `{"response":"x","done":false,"done_reason":"stop"}`, contract.FinishReasonUnspecified},
		{"stop", `{"response":"","done":true,"done_reason":"stop"}`, contract.FinishReasonStop},
		{"length", `{"response":"","done":true,"done_reason":"length"}`, contract.FinishReasonMaxTokens},
		{"other reason", `{"response":"","done":true,"done_reason":"load"}`, contract.FinishReasonOther},
		{"done without reason", `{"response":"","done":true}`, contract.FinishReasonOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := testTranslator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintln(w, tc.line)
			}))

			var last *contract.GenerationResponse
			for resp, err := range tr.GenerateContentStream(t.Context(), textRequest("x")) {
				require.NoError(t, err)
				last = resp
			}
			require.NotNil(t, last)
			assert.Equal(t, tc.want, last.Candidates[0].FinishReason)
		})
	}
}

func TestGenerateContentStream_ContextUpdatedOnlyAfterExhaustion(t *testing.T) {
	body := `{"response":"a","done":false}` + "\n" +
		`{"response":"","done":true,"done_reason":"stop","context":[7,7,7]}` + "\n"

	t.Run("exhausted", func(t *testing.T) {
		tr := testTranslator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))

		for resp, err := range tr.GenerateContentStream(t.Context(), textRequest("x")) {
			require.NoError(t, err)
			_ = resp
		}
		assert.Equal(t, []int{7, 7, 7}, tr.chatContext)
	})

	t.Run("early break leaves context untouched", func(t *testing.T) {
		tr := testTranslator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))

		for range tr.GenerateContentStream(t.Context(), textRequest("x")) {
			break
		}
		assert.Empty(t, tr.chatContext)
	})
}

func TestGenerateContentStream_ChunksCarryTextInOrder(t *testing.T) {
	tr := testTranslator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":"Hel","done":false}`+"\n")
		fmt.Fprint(w, `{"response":"lo","done":false}`+"\n")
		fmt.Fprint(w, `{"response":"","done":true,"done_reason":"stop"}`+"\n")
	}))

	var texts []string
	for resp, err := range tr.GenerateContentStream(t.Context(), textRequest("hi")) {
		require.NoError(t, err)
		texts = append(texts, resp.Text)
	}
	assert.Equal(t, []string{"Hel", "lo", ""}, texts)
}

func TestCountTokens_CharacterEstimate(t *testing.T) {
	tr := NewTranslator("llama3.2", NewClient("http://localhost:1", time.Second, nil, false), nil)

	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},                                 // ceil(3/3.5)
		{"abcdefghijklmnopqrstuvwxyzé", 8},    // 27 chars -> ceil(27/3.5)
		{"0123456789012345678901234567890123", 10}, // 34 chars -> ceil(34/3.5)
	}

	for _, tc := range cases {
		got, err := tr.CountTokens(t.Context(), contract.TextPrompt(tc.text))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.TotalTokens, "text %q", tc.text)
		assert.NotEmpty(t, got.Warning)
	}
}

func TestCountTokens_SpansAllTurns(t *testing.T) {
	tr := NewTranslator("llama3.2", NewClient("http://localhost:1", time.Second, nil, false), nil)

	prompt := contract.TurnListPrompt([]contract.Turn{
		{Role: contract.RoleUser, Parts: []contract.Part{{Text: "aaaa"}}},
		{Role: contract.RoleModel, Parts: []contract.Part{{Text: "bbb"}}},
	})

	got, err := tr.CountTokens(t.Context(), prompt)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalTokens) // ceil(7/3.5)
}

func TestEmbedContent_EmptyPromptFailsBeforeNetwork(t *testing.T) {
	// Unroutable base URL: a network attempt would fail differently.
	tr := NewTranslator("llama3.2", NewClient("http://localhost:1", time.Second, nil, false), nil)

	_, err := tr.EmbedContent(t.Context(), contract.TurnPrompt(contract.Turn{Role: contract.RoleUser}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Prompt text is required for Ollama embedContent.")
	assert.True(t, kaiwaErrors.IsCategory(err, kaiwaErrors.ErrInvalidInput))
}

func TestEmbedContent_UsesLastTurnOfTurnList(t *testing.T) {
	tr := testTranslator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params EmbeddingsParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "latest", params.Prompt)
		fmt.Fprint(w, `{"embedding":[1,0]}`)
	}))

	prompt := contract.TurnListPrompt([]contract.Turn{
		{Role: contract.RoleUser, Parts: []contract.Part{{Text: "older"}}},
		{Role: contract.RoleUser, Parts: []contract.Part{{Text: "latest"}}},
	})

	vec, err := tr.EmbedContent(t.Context(), prompt)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
}

func TestGenerateContent_BackendErrorPropagatesUnchanged(t *testing.T) {
	tr := testTranslator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "overloaded")
	}))

	_, err := tr.GenerateContent(t.Context(), textRequest("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "overloaded")
	assert.Empty(t, tr.chatContext)
}
