package anthropic

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/internal/testutil"
	"github.com/hupe1980/agentcontext/model"
	"github.com/hupe1980/agentcontext/tool"
)

func TestBuildMessages_AlternatesRolesAndAppendsAugmented(t *testing.T) {
	req := model.Request{
		Messages: []core.Message{
			testutil.User().Text("read a.txt").Build(),
			testutil.ModelReply("claude").Call("t1", "read_file", `{"path":"a.txt"}`).Build(),
			testutil.Tool().Response("t1", "read_file", "hello").Build(),
		},
		Augmented: []core.Part{core.TextPart{Text: "workspace"}},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)

	// Tool result and augmented workspace share the final user turn.
	require.Len(t, msgs[2].Content, 2)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "t1", msgs[2].Content[0].OfToolResult.ToolUseID)
	require.NotNil(t, msgs[2].Content[1].OfText)
	assert.Equal(t, "workspace", msgs[2].Content[1].OfText.Text)
}

func TestBuildMessages_AugmentedOnlyStartsUserTurn(t *testing.T) {
	msgs := buildMessages(model.Request{
		Messages:  []core.Message{core.NewModelMessage("claude", core.TextPart{Text: "hi"})},
		Augmented: []core.Part{core.TextPart{Text: "aug"}},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[1].Role)
}

func TestBuildTools(t *testing.T) {
	tools := buildTools([]tool.Declaration{{
		Name:        "read_file",
		Description: "Read a file",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "read_file", tools[0].OfTool.Name)
	assert.Equal(t, []string{"path"}, tools[0].OfTool.InputSchema.Required)
}

func TestInfo(t *testing.T) {
	m := NewModelFromClient(nil, func(o *Options) { o.Model = "claude-test" })
	assert.Equal(t, "claude-test", m.Info().Name)
	assert.Equal(t, "anthropic", m.Info().Provider)
}
