// Package model defines the provider-agnostic boundary to conversational
// models.
//
// A Request is built from a conversation.TurnPayload: system instructions,
// the committed history and the per-turn augmented workspace, plus the
// declarations of callable methods. Vendor adapters live in model/openai and
// model/anthropic; MockModel serves tests and offline runs.
package model
