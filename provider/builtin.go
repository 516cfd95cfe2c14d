package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/internal/util"
	"github.com/hupe1980/agentcontext/resource"
)

// ProduceFunc is the signature of Func providers.
type ProduceFunc func(ctx context.Context, conv Conversation) ([]core.Part, error)

// Func adapts a plain function to the Provider interface.
type Func struct {
	id       string
	name     string
	position core.Position
	fn       ProduceFunc
}

// NewFunc creates a provider backed by fn.
func NewFunc(id, displayName string, pos core.Position, fn ProduceFunc) *Func {
	return &Func{id: id, name: displayName, position: pos, fn: fn}
}

func (f *Func) ID() string              { return f.id }
func (f *Func) DisplayName() string     { return f.name }
func (f *Func) Position() core.Position { return f.position }

// Produce calls the wrapped function.
func (f *Func) Produce(ctx context.Context, conv Conversation) ([]core.Part, error) {
	return f.fn(ctx, conv)
}

// Instructions contributes a system instruction rendered as a text template.
// Template data is the conversation state plus "session_id".
type Instructions struct {
	id   string
	text string
}

// NewInstructions creates a system-instruction provider.
func NewInstructions(id, text string) *Instructions {
	return &Instructions{id: id, text: text}
}

func (i *Instructions) ID() string              { return i.id }
func (i *Instructions) DisplayName() string     { return "Instructions" }
func (i *Instructions) Position() core.Position { return core.PositionSystemInstruction }

// Produce renders the instruction template.
func (i *Instructions) Produce(_ context.Context, conv Conversation) ([]core.Part, error) {
	data := map[string]any{}
	if conv != nil {
		for k, v := range conv.State() {
			data[k] = v
		}
		data["session_id"] = conv.SessionID()
	}
	text, err := util.RenderInstructions(i.text, data)
	if err != nil {
		return nil, fmt.Errorf("render instructions: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []core.Part{core.TextPart{Text: text}}, nil
}

// ResourceOverview renders the tracked resources of the conversation as a
// table in the augmented workspace, so the model sees which file contents in
// its history are stale or gone.
type ResourceOverview struct{}

// NewResourceOverview creates the resource overview provider.
func NewResourceOverview() *ResourceOverview { return &ResourceOverview{} }

func (ResourceOverview) ID() string              { return "resource_overview" }
func (ResourceOverview) DisplayName() string     { return "Tracked resources" }
func (ResourceOverview) Position() core.Position { return core.PositionAugmentedWorkspace }

// Produce renders the overview. No tracked resources produce no parts.
func (ResourceOverview) Produce(_ context.Context, conv Conversation) ([]core.Part, error) {
	if conv == nil || conv.Tracker() == nil {
		return nil, nil
	}
	records := conv.Tracker().Overview()
	if len(records) == 0 {
		return nil, nil
	}
	return []core.Part{core.TextPart{Text: RenderOverview(records)}}, nil
}

// RenderOverview formats tracker records as a markdown table.
func RenderOverview(records []resource.Record) string {
	var b strings.Builder
	b.WriteString("Tracked resources (content in history reflects the context snapshot):\n")
	b.WriteString("| resource | status | context size | context modified | current size | current modified |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, r := range records {
		curSize, curMod := "-", "-"
		if cur, ok := r.Current.Get(); ok {
			curSize = fmt.Sprintf("%d", cur.Size)
			curMod = cur.ModTime.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %s | %s | %s |\n",
			r.ID, r.Status, r.Context.Size, r.Context.ModTime.UTC().Format(time.RFC3339), curSize, curMod)
	}
	return b.String()
}

// Clock contributes the current time to the augmented workspace.
type Clock struct {
	now func() time.Time
}

// NewClock creates a clock provider. A nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) ID() string              { return "clock" }
func (c *Clock) DisplayName() string     { return "Clock" }
func (c *Clock) Position() core.Position { return core.PositionAugmentedWorkspace }

// Produce reports the current time.
func (c *Clock) Produce(_ context.Context, _ Conversation) ([]core.Part, error) {
	return []core.Part{core.TextPart{Text: "Current time: " + c.now().Format(time.RFC3339)}}, nil
}
