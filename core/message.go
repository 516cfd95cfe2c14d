package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks messages typed by the end user.
	RoleUser Role = "user"
	// RoleModel marks messages produced by the conversational model.
	RoleModel Role = "model"
	// RoleTool marks messages carrying tool invocation results.
	RoleTool Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleTool:
		return true
	}
	return false
}

// Message is an immutable unit of conversation history. After it has been
// appended to a conversation it must not be mutated; corrections are new
// messages.
type Message struct {
	ID        string
	Role      Role
	Parts     []Part
	Model     Optional[string] // Origin model identifier, absent for user input
	CreatedAt time.Time
}

// NewMessage creates a message with a fresh ID and UTC timestamp.
func NewMessage(role Role, parts ...Part) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Parts:     parts,
		CreatedAt: time.Now().UTC(),
	}
}

// NewUserMessage creates a user-authored text message.
func NewUserMessage(text string) Message {
	return NewMessage(RoleUser, TextPart{Text: text})
}

// NewModelMessage creates a model-authored message tagged with the model identifier.
func NewModelMessage(model string, parts ...Part) Message {
	m := NewMessage(RoleModel, parts...)
	if model != "" {
		m.Model = Some(model)
	}
	return m
}

// NewToolMessage creates a tool-role message from function responses.
func NewToolMessage(responses ...FunctionResponse) Message {
	parts := make([]Part, 0, len(responses))
	for _, fr := range responses {
		parts = append(parts, FunctionResponsePart{FunctionResponse: fr})
	}
	return NewMessage(RoleTool, parts...)
}

// NewID generates a new unique identifier for messages and invocations.
func NewID() string { return uuid.NewString() }

// FunctionCalls returns any FunctionCall parts contained within the message
// preserving their original order.
func (m Message) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range m.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns any FunctionResponse parts contained within the
// message preserving their original order.
func (m Message) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, p := range m.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string { return Text(m.Parts) }

// Clone returns a copy whose part slice and blob payloads are independent of m.
func (m Message) Clone() Message {
	m.Parts = CloneParts(m.Parts)
	return m
}
