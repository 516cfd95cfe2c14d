// Package runner implements the turn loop of a conversation.
//
// A turn appends the user message, then repeats until the model stops
// requesting tools: build the turn payload, call the model, commit its
// reply, submit the requested calls as one batch, wait for every invocation
// to become terminal and commit the batch results as a single tool message.
// Model calls per turn are bounded by a core.CallLimiter.
//
// Invocations awaiting approval are surfaced as EventApprovalRequired; the
// consumer decides them through tool.Lifecycle.Decide while the runner waits.
package runner
