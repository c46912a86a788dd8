package transcript

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chamada/internal/calls"
)

func TestFormat_EmptyReturnsSentinel(t *testing.T) {
	assert.Equal(t, NoConversation, Format(context.Background(), nil).Text)
	assert.Equal(t, NoConversation, Format(context.Background(), []any{}).Text)
}

func TestFormat_SkipsMalformedTurn(t *testing.T) {
	history := []any{
		map[string]any{"role": "assistant", "content": "Olá Maria"},
		map[string]any{"role": "user", "content": nil},
		map[string]any{"role": "user", "content": 42},
		"not a turn",
	}
	res := Format(context.Background(), history)

	require.Len(t, res.Lines, 1)
	assert.Equal(t, "Agent: Olá Maria", res.Text)
	assert.Equal(t, 3, res.Skipped)
}

func TestFormat_ContentFragmentsAndWhitespace(t *testing.T) {
	history := []any{
		Turn{Role: "user", Content: []any{
			map[string]any{"type": "text", "text": "Quero"},
			map[string]any{"type": "audio", "transcript": "ignored"},
			map[string]any{"type": "text", "text": "marcar"},
		}},
		Turn{Role: "assistant", Content: "   "},
		map[string]any{"type": "function_call", "name": "transfer_human"},
		Turn{Role: "robot", Content: "beep"},
	}
	res := Format(context.Background(), history)

	require.Len(t, res.Lines, 2)
	assert.Equal(t, "User: Quero marcar\nParticipant: beep", res.Text)
	assert.Zero(t, res.Skipped)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		lines []Line
		want  calls.Outcome
	}{
		{"empty", nil, calls.OutcomeNoConversation},
		{"single", []Line{{RoleAssistant, "Olá"}}, calls.OutcomeNoConversation},
		{"one sided", []Line{{RoleAssistant, "Olá"}, {RoleAssistant, "Está aí?"}}, calls.OutcomeOneSided},
		{"completed", []Line{{RoleAssistant, "Olá"}, {RoleUser, "Bom dia"}}, calls.OutcomeCompleted},
		{"error", []Line{{RoleAssistant, "Lamento, ocorreu um erro."}, {RoleUser, "ok"}}, calls.OutcomeError},
		{"mention of error is not failure", []Line{{RoleUser, "Tive um erro na fatura"}, {RoleAssistant, "Vamos ver"}}, calls.OutcomeCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(Result{Lines: tc.lines}))
		})
	}
}

func TestAnalyze(t *testing.T) {
	r := Result{Lines: []Line{
		{RoleAssistant, "abcd"},
		{RoleUser, "ab"},
		{RoleUser, "ab"},
		{RoleAssistant, "abcd"},
	}}
	a := Analyze(r)
	assert.Equal(t, map[string]int{RoleAssistant: 2, RoleUser: 2}, a.MessageCounts)
	assert.Equal(t, 3, a.Turns)
	assert.InDelta(t, 3.0, a.AvgMessageLen, 1e-9)
}

func TestFromJSON(t *testing.T) {
	items, err := FromJSON([]byte(`{"items":[{"type":"message","role":"user","content":"oi"}]}`))
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, err = FromJSON([]byte(`[{"role":"assistant","content":["olá"]}]`))
	require.NoError(t, err)
	assert.Equal(t, "Agent: olá", Format(context.Background(), items).Text)

	_, err = FromJSON([]byte(`{"nope":1}`))
	assert.Error(t, err)
	_, err = FromJSON(nil)
	assert.Error(t, err)
}
