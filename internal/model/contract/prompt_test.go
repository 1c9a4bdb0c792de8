package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromptContent_EmbedText(t *testing.T) {
	turnA := Turn{Role: RoleUser, Parts: []Part{{Text: "older "}, {Text: "turn"}}}
	turnB := Turn{Role: RoleUser, Parts: []Part{{Text: "latest"}}}

	assert.Equal(t, "verbatim", TextPrompt("verbatim").EmbedText())
	assert.Equal(t, "older turn", TurnPrompt(turnA).EmbedText())
	assert.Equal(t, "latest", TurnListPrompt([]Turn{turnA, turnB}).EmbedText())
	assert.Equal(t, "", TurnListPrompt(nil).EmbedText())
	assert.Equal(t, "", TurnPrompt(Turn{Role: RoleUser}).EmbedText())
}

func TestPromptContent_AllText(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Parts: []Part{{Text: "ab"}}},
		{Role: RoleModel, Parts: []Part{{Text: "cd"}, {FunctionCall: &FunctionCall{Name: "f"}}}},
	}

	assert.Equal(t, "abcd", TurnListPrompt(turns).AllText())
	assert.Equal(t, "plain", TextPrompt("plain").AllText())
}

func TestGenerationResponse_FunctionCalls(t *testing.T) {
	resp := &GenerationResponse{
		Candidates: []Candidate{{
			Role: RoleModel,
			Parts: []Part{
				{FunctionCall: &FunctionCall{Name: "a"}},
				{FunctionCall: &FunctionCall{Name: "b"}},
			},
		}},
	}

	calls := resp.FunctionCalls()
	assert.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].Name)

	assert.Nil(t, (&GenerationResponse{}).FunctionCalls())
}
