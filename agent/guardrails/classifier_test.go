package guardrails

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finagents/loanflow/agent/conversation"
	"github.com/finagents/loanflow/llm"
	"github.com/finagents/loanflow/testutil/mocks"
)

func TestLLMClassifierDecodesRuling(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		Reply(`{"on_topic": true, "safe": true}`)
	c := NewLLMClassifier(provider, "gpt-4o-mini", 5*time.Second, nil)

	out, err := c.Classify(context.Background(), "I want a home loan", conversation.New("s-1"))

	require.NoError(t, err)
	assert.True(t, out.OnTopic)
	assert.True(t, out.Safe)
}

func TestLLMClassifierMalformedOutputErrors(t *testing.T) {
	provider := mocks.NewScriptedProvider().Reply("sure, that looks fine to me")
	c := NewLLMClassifier(provider, "gpt-4o-mini", 5*time.Second, nil)

	_, err := c.Classify(context.Background(), "anything", nil)

	assert.Error(t, err)
}

func TestLLMClassifierIncludesLastAssistantTurn(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		Reply(`{"on_topic": true, "safe": true}`)
	c := NewLLMClassifier(provider, "gpt-4o-mini", 5*time.Second, nil)

	snapshot := conversation.New("s-1")
	snapshot.AppendTurn(conversation.Turn{Role: conversation.RoleAssistant, Text: "What loan amount do you need?"})

	_, err := c.Classify(context.Background(), "50000", snapshot)
	require.NoError(t, err)

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	var roles []llm.Role
	for _, m := range reqs[0].Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []llm.Role{llm.RoleSystem, llm.RoleAssistant, llm.RoleUser}, roles)
	assert.Equal(t, "What loan amount do you need?", reqs[0].Messages[1].Content)
}
