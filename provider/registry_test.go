package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/resource"
)

type stubConversation struct {
	tracker *resource.Tracker
	state   map[string]any
}

func (s *stubConversation) SessionID() string          { return "sess-1" }
func (s *stubConversation) History() []core.Message    { return nil }
func (s *stubConversation) Tracker() *resource.Tracker { return s.tracker }
func (s *stubConversation) State() map[string]any {
	out := make(map[string]any, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

func textProvider(id string, pos core.Position) Provider {
	return NewFunc(id, strings.ToUpper(id), pos, func(context.Context, Conversation) ([]core.Part, error) {
		return []core.Part{core.TextPart{Text: id}}, nil
	})
}

func texts(parts []core.Part) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, p.(core.TextPart).Text)
	}
	return out
}

func TestRegistry_CollectEnabledInRegistrationOrder(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}

	// Every enabled/disabled combination yields only enabled providers in order.
	for mask := 0; mask < 1<<len(ids); mask++ {
		r := NewRegistry()
		for _, id := range ids {
			require.NoError(t, r.Register(textProvider(id, core.PositionAugmentedWorkspace)))
		}
		var want []string
		for i, id := range ids {
			enabled := mask&(1<<i) != 0
			require.NoError(t, r.SetEnabled(id, enabled))
			if enabled {
				want = append(want, id)
			}
		}
		got := texts(r.Collect(context.Background(), core.PositionAugmentedWorkspace, &stubConversation{}))
		if len(want) == 0 {
			assert.Empty(t, got, "mask %b", mask)
		} else {
			assert.Equal(t, want, got, "mask %b", mask)
		}
	}
}

func TestRegistry_PositionFilter(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(textProvider("sys", core.PositionSystemInstruction)))
	require.NoError(t, r.Register(textProvider("aug", core.PositionAugmentedWorkspace)))

	assert.Equal(t, []string{"sys"}, texts(r.Collect(context.Background(), core.PositionSystemInstruction, nil)))
	assert.Equal(t, []string{"aug"}, texts(r.Collect(context.Background(), core.PositionAugmentedWorkspace, nil)))
}

func TestRegistry_FailureIsolation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(textProvider("first", core.PositionAugmentedWorkspace)))
	require.NoError(t, r.Register(NewFunc("screen", "Screenshot", core.PositionAugmentedWorkspace,
		func(context.Context, Conversation) ([]core.Part, error) {
			return nil, errors.New("no display")
		})))
	require.NoError(t, r.Register(NewFunc("boom", "Boom", core.PositionAugmentedWorkspace,
		func(context.Context, Conversation) ([]core.Part, error) {
			panic("kaboom")
		})))
	require.NoError(t, r.Register(textProvider("last", core.PositionAugmentedWorkspace)))

	got := texts(r.Collect(context.Background(), core.PositionAugmentedWorkspace, nil))
	require.Len(t, got, 4)
	assert.Equal(t, "first", got[0])
	assert.Equal(t, "[provider screen (Screenshot) failed: no display]", got[1])
	assert.Contains(t, got[2], "[provider boom (Boom) failed: panic: kaboom")
	assert.Equal(t, "last", got[3])
}

func TestRegistry_NoCaching(t *testing.T) {
	r := NewRegistry()
	calls := 0
	require.NoError(t, r.Register(NewFunc("count", "Counter", core.PositionAugmentedWorkspace,
		func(context.Context, Conversation) ([]core.Part, error) {
			calls++
			return []core.Part{core.TextPart{Text: fmt.Sprint(calls)}}, nil
		})))
	assert.Equal(t, []string{"1"}, texts(r.Collect(context.Background(), core.PositionAugmentedWorkspace, nil)))
	assert.Equal(t, []string{"2"}, texts(r.Collect(context.Background(), core.PositionAugmentedWorkspace, nil)))
}

func TestRegistry_RegistrationErrorsAndGeneration(t *testing.T) {
	r := NewRegistry()
	g0 := r.Generation()
	require.NoError(t, r.Register(textProvider("x", core.PositionSystemInstruction)))
	assert.ErrorIs(t, r.Register(textProvider("x", core.PositionSystemInstruction)), ErrDuplicateProvider)
	assert.ErrorIs(t, r.SetEnabled("nope", true), ErrUnknownProvider)

	g1 := r.Generation()
	assert.Greater(t, g1, g0)

	require.NoError(t, r.SetEnabled("x", true)) // unchanged flag
	assert.Equal(t, g1, r.Generation())

	require.NoError(t, r.SetEnabled("x", false))
	assert.Greater(t, r.Generation(), g1)
	assert.False(t, r.Enabled("x"))

	infos := r.Providers()
	require.Len(t, infos, 1)
	assert.Equal(t, Info{ID: "x", DisplayName: "X", Position: core.PositionSystemInstruction, Enabled: false}, infos[0])
}

func TestBuiltins(t *testing.T) {
	conv := &stubConversation{state: map[string]any{"user": "ada"}}

	parts, err := NewInstructions("sys", "You help {{.user}} in {{.session_id}}.").Produce(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, []string{"You help ada in sess-1."}, texts(parts))

	_, err = NewInstructions("bad", "{{.user").Produce(context.Background(), conv)
	assert.Error(t, err)

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	parts, err = NewClock(func() time.Time { return fixed }).Produce(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, []string{"Current time: 2026-01-02T03:04:05Z"}, texts(parts))

	// Without tracked resources the overview contributes nothing.
	conv.tracker = resource.NewTracker()
	parts, err = NewResourceOverview().Produce(context.Background(), conv)
	require.NoError(t, err)
	assert.Empty(t, parts)

	conv.tracker.Track("/gone.txt", resource.Snapshot{Size: 3, ModTime: fixed})
	parts, err = NewResourceOverview().Produce(context.Background(), conv)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Contains(t, parts[0].(core.TextPart).Text, "| /gone.txt | missing | 3 |")
}
