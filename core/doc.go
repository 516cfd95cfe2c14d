// Package core provides the foundational domain types shared by every part of
// the runtime:
//
//   - Message (immutable unit of conversation history) and its Role
//   - Part, the closed union of content segments (text, blob, structured
//     value, function call, function response)
//   - Position, the injection point of provider content
//   - Optional, an explicit present/absent wrapper that survives persistence
//   - CallLimiter, bounding model calls per user turn
//
// The package keeps behavior out of scope; registries, trackers and the
// invocation lifecycle live in their own packages and depend on core.
package core
