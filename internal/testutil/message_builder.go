package testutil

import (
	"time"

	"github.com/hupe1980/agentcontext/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder(core.RoleModel).Model("gpt").Text("hello").Call("c1", "read_file", `{"path":"a"}`).Build()
//
// Chain only the parts you need; ID and CreatedAt get defaults.
type MessageBuilder struct {
	role      core.Role
	id        string
	model     *string
	createdAt time.Time
	parts     []core.Part
}

// NewMessageBuilder creates a builder for a message with the given role.
func NewMessageBuilder(role core.Role) *MessageBuilder { return &MessageBuilder{role: role} }

// User starts a user message.
func User() *MessageBuilder { return NewMessageBuilder(core.RoleUser) }

// ModelReply starts a model message tagged with the model identifier.
func ModelReply(model string) *MessageBuilder { return NewMessageBuilder(core.RoleModel).Model(model) }

// Tool starts a tool message.
func Tool() *MessageBuilder { return NewMessageBuilder(core.RoleTool) }

// ID overrides the generated message ID (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// Model sets the originating model (chainable).
func (b *MessageBuilder) Model(m string) *MessageBuilder { b.model = &m; return b }

// At sets the creation time (chainable).
func (b *MessageBuilder) At(t time.Time) *MessageBuilder { b.createdAt = t; return b }

// Text appends a text part (chainable).
func (b *MessageBuilder) Text(t string) *MessageBuilder {
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// Blob appends an attachment (chainable).
func (b *MessageBuilder) Blob(mime string, data []byte) *MessageBuilder {
	b.parts = append(b.parts, core.BlobPart{MimeType: mime, Data: data})
	return b
}

// Call appends a function call with a JSON argument string (chainable).
func (b *MessageBuilder) Call(id, name, args string) *MessageBuilder {
	b.parts = append(b.parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Arguments: args}})
	return b
}

// Response appends a succeeded function response (chainable).
func (b *MessageBuilder) Response(id, name string, result any) *MessageBuilder {
	return b.AddPart(core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
		ID: id, Name: name, Status: "succeeded", Response: result,
	}})
}

// Failure appends a failed function response (chainable).
func (b *MessageBuilder) Failure(id, name string, err error) *MessageBuilder {
	return b.AddPart(core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
		ID: id, Name: name, Status: "failed", Error: err.Error(),
	}})
}

// AddPart appends a custom content part (chainable).
func (b *MessageBuilder) AddPart(p core.Part) *MessageBuilder {
	b.parts = append(b.parts, p)
	return b
}

// Build constructs the core.Message value.
func (b *MessageBuilder) Build() core.Message {
	msg := core.NewMessage(b.role, append([]core.Part(nil), b.parts...)...)
	if b.id != "" {
		msg.ID = b.id
	}
	if b.model != nil {
		msg.Model = core.Some(*b.model)
	}
	if !b.createdAt.IsZero() {
		msg.CreatedAt = b.createdAt
	}
	return msg
}
