package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentcontext/conversation"
	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/tool"
)

// Request captures the normalized model input of one turn. Adapters send
// System as the system prompt, Messages in order, and Augmented last as a
// transient user turn.
type Request struct {
	System    []core.Part        `json:"system,omitempty"`
	Messages  []core.Message     `json:"messages"`
	Augmented []core.Part        `json:"augmented,omitempty"`
	Tools     []tool.Declaration `json:"tools,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
}

// NewRequest builds a request from a turn payload and the declarations of
// the callable methods.
func NewRequest(payload conversation.TurnPayload, decls []tool.Declaration) Request {
	return Request{
		System:    payload.SystemInstructions,
		Messages:  payload.History,
		Augmented: payload.AugmentedWorkspace,
		Tools:     decls,
	}
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
// Exactly one final chunk carries the complete parts of the reply.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Parts        []core.Part `json:"-"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the transport boundary to a conversational model.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// RenderPart renders a non-call part as text for transports that only take
// text. Function calls and responses render as empty strings; adapters map
// them to native structures.
func RenderPart(p core.Part) string {
	switch v := p.(type) {
	case core.TextPart:
		return v.Text
	case core.BlobPart:
		return fmt.Sprintf("[attachment %s, %d bytes]", v.MimeType, len(v.Data))
	case core.DataPart:
		b, err := json.Marshal(v.Value)
		if err != nil {
			return fmt.Sprintf("%v", v.Value)
		}
		return string(b)
	}
	return ""
}

// RenderParts joins the rendered non-empty parts with blank lines.
func RenderParts(parts []core.Part) string {
	var out []string
	for _, p := range parts {
		if s := RenderPart(p); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}

// ResponseText renders a function response as the tool-result text sent
// back to the model.
func ResponseText(fr core.FunctionResponse) string {
	if fr.Error != "" {
		return "error: " + fr.Error
	}
	switch v := fr.Response.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	b, err := json.Marshal(fr.Response)
	if err != nil {
		return fmt.Sprintf("%v", fr.Response)
	}
	return string(b)
}

// Collect drains the channels of Generate and returns the final response.
func Collect(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)
	var final *Response
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final = &r
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}
	if final == nil {
		return Response{}, fmt.Errorf("model %s returned no final response", m.Info().Name)
	}
	return *final, nil
}

// MockModel is a scripted in-memory Model for tests and offline runs. Each
// call to Generate consumes the next scripted reply; once the script is
// exhausted it echoes the last user text.
type MockModel struct {
	info Info

	mu       sync.Mutex
	script   [][]core.Part
	requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: "mock", SupportsTools: true}}
}

// Script appends a reply to the script.
func (m *MockModel) Script(parts ...core.Part) *MockModel {
	m.mu.Lock()
	m.script = append(m.script, parts)
	m.mu.Unlock()
	return m
}

// ScriptCalls appends a reply consisting of function calls.
func (m *MockModel) ScriptCalls(calls ...core.FunctionCall) *MockModel {
	parts := make([]core.Part, len(calls))
	for i, c := range calls {
		parts[i] = core.FunctionCallPart{FunctionCall: c}
	}
	return m.Script(parts...)
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Generate implements Model; emits per-rune chunks when streaming, then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var parts []core.Part
	if len(m.script) > 0 {
		parts, m.script = m.script[0], m.script[1:]
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}
		if parts == nil {
			parts = []core.Part{core.TextPart{Text: "Mock response to: " + lastUserText(req.Messages)}}
		}
		if req.Stream {
			for _, r := range core.Text(parts) {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Parts: []core.Part{core.TextPart{Text: string(r)}}}:
				}
			}
		}
		finish := "stop"
		for _, p := range parts {
			if _, ok := p.(core.FunctionCallPart); ok {
				finish = "tool_calls"
				break
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{ID: core.NewID(), Parts: parts, FinishReason: finish}:
		}
	}()
	return respCh, errCh
}

func lastUserText(msgs []core.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleUser {
			return msgs[i].Text()
		}
	}
	return ""
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
