package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/provider"
	"github.com/hupe1980/agentcontext/tool"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []core.Message
}

func (s *recordingSink) LogEntry(msg core.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestAppendMessage_CommitsCopyAndMirrorsToSink(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(func(o *Options) { o.Sink = sink })

	in := core.NewMessage(core.RoleUser, core.BlobPart{MimeType: "image/png", Data: []byte{1, 2}})
	got, err := m.AppendMessage(in)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())

	// Mutating the caller's message or the returned copy leaves history intact.
	in.Parts[0].(core.BlobPart).Data[0] = 9
	got.Parts[0].(core.BlobPart).Data[1] = 9

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, []byte{1, 2}, history[0].Parts[0].(core.BlobPart).Data)
	assert.Equal(t, 1, sink.len())
}

func TestAppendMessage_PreservesOrder(t *testing.T) {
	m := NewManager()
	for _, text := range []string{"a", "b", "c"} {
		_, err := m.AppendMessage(core.NewUserMessage(text))
		require.NoError(t, err)
	}
	var texts []string
	for _, msg := range m.History() {
		texts = append(texts, msg.Text())
	}
	assert.Equal(t, []string{"a", "b", "c"}, texts)
	assert.Equal(t, 3, m.Len())
}

func TestAppendMessage_RejectsInvalid(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(func(o *Options) { o.Sink = sink })

	for name, msg := range map[string]core.Message{
		"no parts":   {Role: core.RoleUser},
		"bad role":   {Role: "narrator", Parts: []core.Part{core.TextPart{Text: "x"}}},
		"nil part":   {Role: core.RoleUser, Parts: []core.Part{nil}},
		"empty role": {Parts: []core.Part{core.TextPart{Text: "x"}}},
	} {
		_, err := m.AppendMessage(msg)
		assert.ErrorIs(t, err, ErrInvalidMessage, name)
	}
	assert.Zero(t, m.Len())
	assert.Zero(t, sink.len())
}

func TestBuildTurnPayload_OrderAndAugmentedNeverInHistory(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(provider.NewInstructions("sys", "You help {{.user}}.")))
	var turns atomic.Int32
	require.NoError(t, reg.Register(provider.NewFunc("turn", "Turn counter", core.PositionAugmentedWorkspace,
		func(context.Context, provider.Conversation) ([]core.Part, error) {
			n := turns.Add(1)
			return []core.Part{core.TextPart{Text: "turn " + string(rune('0'+n))}}, nil
		})))

	m := NewManager(func(o *Options) { o.Registry = reg })
	m.SetState("user", "ada")
	_, err := m.AppendMessage(core.NewUserMessage("hi"))
	require.NoError(t, err)

	p1 := m.BuildTurnPayload(context.Background())
	assert.Equal(t, "You help ada.", core.Text(p1.SystemInstructions))
	require.Len(t, p1.History, 1)
	assert.Equal(t, "turn 1", core.Text(p1.AugmentedWorkspace))

	p2 := m.BuildTurnPayload(context.Background())
	assert.Equal(t, "turn 2", core.Text(p2.AugmentedWorkspace))

	for _, msg := range m.History() {
		assert.NotContains(t, msg.Text(), "turn")
	}
	assert.Equal(t, 1, m.Len())
}

func TestBuildTurnPayload_SystemInstructionsCachedUntilRegistryChanges(t *testing.T) {
	reg := provider.NewRegistry()
	var calls atomic.Int32
	require.NoError(t, reg.Register(provider.NewFunc("sys", "System", core.PositionSystemInstruction,
		func(context.Context, provider.Conversation) ([]core.Part, error) {
			calls.Add(1)
			return []core.Part{core.TextPart{Text: "rules"}}, nil
		})))

	m := NewManager(func(o *Options) { o.Registry = reg })
	ctx := context.Background()

	m.BuildTurnPayload(ctx)
	m.BuildTurnPayload(ctx)
	assert.Equal(t, int32(1), calls.Load())

	// State changes alone do not re-render.
	m.SetState("k", "v")
	m.BuildTurnPayload(ctx)
	assert.Equal(t, int32(1), calls.Load())

	m.InvalidateSystemInstructions()
	m.BuildTurnPayload(ctx)
	assert.Equal(t, int32(2), calls.Load())

	require.NoError(t, reg.SetEnabled("sys", false))
	p := m.BuildTurnPayload(ctx)
	assert.Empty(t, p.SystemInstructions)
	assert.Equal(t, int32(2), calls.Load())

	require.NoError(t, reg.SetEnabled("sys", true))
	p = m.BuildTurnPayload(ctx)
	assert.Equal(t, "rules", core.Text(p.SystemInstructions))
	assert.Equal(t, int32(3), calls.Load())
}

func TestBuildTurnPayload_ProviderFailureBecomesDiagnostic(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(provider.NewFunc("broken", "Broken", core.PositionAugmentedWorkspace,
		func(context.Context, provider.Conversation) ([]core.Part, error) {
			return nil, errors.New("disk on fire")
		})))

	m := NewManager(func(o *Options) { o.Registry = reg })
	p := m.BuildTurnPayload(context.Background())
	assert.Contains(t, core.Text(p.AugmentedWorkspace), "disk on fire")
	assert.Contains(t, core.Text(p.AugmentedWorkspace), "broken")
}

func TestCommitBatch(t *testing.T) {
	echo := tool.NewMethod("echo", "Echo", nil, func(_ *tool.ToolContext, _ map[string]any) (any, error) {
		return "pong", nil
	})
	reg, err := tool.NewRegistry(echo)
	require.NoError(t, err)

	prefs := tool.NewPreferences(tool.AlwaysAsk)
	prefs.Set("echo", tool.AlwaysAllow)
	lc := tool.NewLifecycle(reg, func(o *tool.Options) { o.Preferences = prefs })

	sink := &recordingSink{}
	m := NewManager(func(o *Options) { o.Sink = sink })
	ctx := context.Background()

	t.Run("empty batch commits nothing", func(t *testing.T) {
		msg, err := m.CommitBatch(lc.SubmitBatch(ctx, nil))
		require.NoError(t, err)
		assert.Empty(t, msg.ID)
		assert.Zero(t, m.Len())
	})

	t.Run("completed batch appends one tool message", func(t *testing.T) {
		b := lc.SubmitBatch(ctx, []core.FunctionCall{
			{ID: "c1", Name: "echo", Arguments: "{}"},
			{ID: "c2", Name: "echo", Arguments: "{}"},
		})
		require.NoError(t, b.Wait(ctx))
		msg, err := m.CommitBatch(b)
		require.NoError(t, err)
		assert.Equal(t, core.RoleTool, msg.Role)
		responses := msg.FunctionResponses()
		require.Len(t, responses, 2)
		assert.Equal(t, "c1", responses[0].ID)
		assert.Equal(t, "pong", responses[0].Response)
		assert.Equal(t, 1, m.Len())
		assert.Equal(t, 1, sink.len())
	})

	t.Run("pending batch is rejected", func(t *testing.T) {
		ask := tool.NewLifecycle(reg)
		pending := ask.SubmitBatch(ctx, []core.FunctionCall{{ID: "c5", Name: "echo", Arguments: "{}"}})
		_, err := m.CommitBatch(pending)
		assert.ErrorIs(t, err, ErrBatchIncomplete)
		assert.Equal(t, 1, m.Len())
	})
}

func TestExportImport(t *testing.T) {
	src := NewManager(func(o *Options) { o.SessionID = "s1" })
	src.SetState("user", "ada")
	_, err := src.AppendMessage(core.NewUserMessage("hi"))
	require.NoError(t, err)
	_, err = src.AppendMessage(core.NewModelMessage("mock", core.TextPart{Text: "hello"}))
	require.NoError(t, err)

	snap := src.Export()
	assert.Equal(t, "s1", snap.SessionID)

	dst := NewManager(func(o *Options) { o.SessionID = snap.SessionID })
	require.NoError(t, dst.Import(snap))
	assert.Equal(t, src.History(), dst.History())
	assert.Equal(t, map[string]any{"user": "ada"}, dst.State())

	assert.Error(t, dst.Import(snap), "import into a non-empty conversation")
}
