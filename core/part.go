package core

import "bytes"

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// BlobPart is an inline binary segment (image, audio, document) tagged with
// its MIME type.
type BlobPart struct {
	MimeType string
	Data     []byte
}

// isPart implements the Part interface for BlobPart.
func (BlobPart) isPart() {}

// DataPart is a structured value segment (e.g. a decoded JSON object).
type DataPart struct {
	Value any
}

// isPart implements the Part interface for DataPart.
func (DataPart) isPart() {}

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`        // Correlation id; assigned on submission when empty
	Name      string `json:"name"`                // Method name
	Arguments string `json:"arguments,omitempty"` // Serialized argument payload (JSON)
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

// isPart implements the Part interface for FunctionCallPart.
func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call as folded back
// into history.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`       // Matches originating FunctionCall ID
	Name     string `json:"name"`               // Method name
	Status   string `json:"status"`             // Terminal invocation status
	Response any    `json:"response,omitempty"` // Successful result (any shape)
	Error    string `json:"error,omitempty"`    // Populated on failure or denial
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

// isPart implements the Part interface for FunctionResponsePart.
func (FunctionResponsePart) isPart() {}

// Text concatenates the text of all TextParts in parts.
func Text(parts []Part) string {
	var buf bytes.Buffer
	for _, p := range parts {
		if tp, ok := p.(TextPart); ok {
			buf.WriteString(tp.Text)
		}
	}
	return buf.String()
}

// CloneParts returns a copy of parts in which blob payloads no longer alias
// the caller's buffers.
func CloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		if bp, ok := p.(BlobPart); ok {
			bp.Data = bytes.Clone(bp.Data)
			p = bp
		}
		out[i] = p
	}
	return out
}
