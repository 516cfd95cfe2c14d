package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcontext/conversation"
	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/tool"
)

func TestNewRequest_KeepsPayloadOrder(t *testing.T) {
	payload := conversation.TurnPayload{
		SystemInstructions: []core.Part{core.TextPart{Text: "sys"}},
		History:            []core.Message{core.NewUserMessage("hi")},
		AugmentedWorkspace: []core.Part{core.TextPart{Text: "aug"}},
	}
	decls := []tool.Declaration{{Name: "read_file"}}
	req := NewRequest(payload, decls)

	assert.Equal(t, "sys", core.Text(req.System))
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "aug", core.Text(req.Augmented))
	assert.Equal(t, decls, req.Tools)
	assert.False(t, req.Stream)
}

func TestRenderPart(t *testing.T) {
	assert.Equal(t, "hi", RenderPart(core.TextPart{Text: "hi"}))
	assert.Equal(t, "[attachment image/png, 3 bytes]", RenderPart(core.BlobPart{MimeType: "image/png", Data: []byte{1, 2, 3}}))
	assert.Equal(t, `{"a":1}`, RenderPart(core.DataPart{Value: map[string]int{"a": 1}}))
	assert.Empty(t, RenderPart(core.FunctionCallPart{}))
	assert.Equal(t, "a\n\nb", RenderParts([]core.Part{core.TextPart{Text: "a"}, core.FunctionCallPart{}, core.TextPart{Text: "b"}}))
}

func TestResponseText(t *testing.T) {
	assert.Equal(t, "hello", ResponseText(core.FunctionResponse{Response: "hello"}))
	assert.Equal(t, `{"n":2}`, ResponseText(core.FunctionResponse{Response: map[string]int{"n": 2}}))
	assert.Equal(t, "error: DENIED: user denied", ResponseText(core.FunctionResponse{Error: "DENIED: user denied", Response: "ignored"}))
	assert.Empty(t, ResponseText(core.FunctionResponse{}))
}

func TestMockModel_ScriptThenEcho(t *testing.T) {
	m := NewMockModel("mock").
		ScriptCalls(core.FunctionCall{ID: "c1", Name: "get_time", Arguments: "{}"}).
		Script(core.TextPart{Text: "done"})
	ctx := context.Background()
	req := Request{Messages: []core.Message{core.NewUserMessage("what time is it")}}

	r1, err := Collect(ctx, m, req)
	require.NoError(t, err)
	assert.Equal(t, "tool_calls", r1.FinishReason)
	require.Len(t, r1.Parts, 1)
	assert.Equal(t, "get_time", r1.Parts[0].(core.FunctionCallPart).FunctionCall.Name)

	r2, err := Collect(ctx, m, req)
	require.NoError(t, err)
	assert.Equal(t, "done", core.Text(r2.Parts))
	assert.Equal(t, "stop", r2.FinishReason)

	r3, err := Collect(ctx, m, req)
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: what time is it", core.Text(r3.Parts))

	assert.Len(t, m.Requests(), 3)
}

func TestMockModel_Streaming(t *testing.T) {
	m := NewMockModel("mock").Script(core.TextPart{Text: "abc"})
	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("x")},
		Stream:   true,
	})

	var partial string
	var final Response
	for r := range respCh {
		if r.Partial {
			partial += core.Text(r.Parts)
			continue
		}
		final = r
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, "abc", partial)
	assert.Equal(t, "abc", core.Text(final.Parts))
}

func TestMockModel_NoMessages(t *testing.T) {
	_, err := Collect(context.Background(), NewMockModel("mock"), Request{})
	assert.Error(t, err)
}
