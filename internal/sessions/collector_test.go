package sessions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/reqgate/internal/hooks"
	"github.com/fyrsmithlabs/reqgate/internal/logging"
	"github.com/fyrsmithlabs/reqgate/internal/requirements"
	"github.com/fyrsmithlabs/reqgate/internal/secrets"
	"github.com/fyrsmithlabs/reqgate/internal/storage"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newCollector(t *testing.T, opts ...Option) *Collector {
	t.Helper()
	docs, err := storage.New(t.TempDir(), 5*time.Second)
	require.NoError(t, err)
	return NewCollector(docs, opts...)
}

func toolEvent(tool string, offset time.Duration) Event {
	return Event{EventType: hooks.HookPreToolUse, ToolName: tool, Branch: "feature", Timestamp: base.Add(offset)}
}

func TestRecord_CreatesAndOrders(t *testing.T) {
	c := newCollector(t)
	ctx := context.Background()

	require.NoError(t, c.Record(ctx, "s1", toolEvent("Read", 10*time.Second)))
	require.NoError(t, c.Record(ctx, "s1", toolEvent("Edit", 30*time.Second)))
	require.NoError(t, c.Record(ctx, "s1", toolEvent("Grep", 20*time.Second)))
	require.NoError(t, c.Record(ctx, "s1", toolEvent("Bash", 20*time.Second)))

	m, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", m.SessionID)
	assert.Equal(t, "feature", m.Branch)
	assert.Equal(t, base.Add(10*time.Second), m.StartedAt)
	var tools []string
	for _, e := range m.Events {
		tools = append(tools, e.ToolName)
	}
	assert.Equal(t, []string{"Read", "Grep", "Bash", "Edit"}, tools)
	assert.Equal(t, 4, m.ToolUses())
	assert.Equal(t, base.Add(30*time.Second), m.Latest())
}

func TestRecord_LateEventDropped(t *testing.T) {
	tl := logging.NewTestLogger()
	c := newCollector(t, WithReorderWindow(time.Minute), WithLogger(tl.Logger))
	ctx := context.Background()
	before := testutil.ToFloat64(NewCounters().LateEventsTotal)

	require.NoError(t, c.Record(ctx, "s1", toolEvent("Read", 5*time.Minute)))
	require.NoError(t, c.Record(ctx, "s1", toolEvent("Grep", 4*time.Minute+30*time.Second)), "inside the window")

	err := c.Record(ctx, "s1", toolEvent("Edit", time.Minute))
	require.ErrorIs(t, err, ErrEventTooLate)

	m, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, m.Events, 2)
	assert.Equal(t, 1, m.Dropped)
	assert.Equal(t, before+1, testutil.ToFloat64(NewCounters().LateEventsTotal))
	tl.AssertLogged(t, zapcore.WarnLevel, "dropped late session event")
}

func TestSeal(t *testing.T) {
	c := newCollector(t)
	ctx := context.Background()
	now := base.Add(time.Hour)
	c.now = func() time.Time { return now }
	sealedBefore := testutil.ToFloat64(NewCounters().SealedTotal)

	_, err := c.Seal(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, c.Record(ctx, "s1", toolEvent("Read", 0)))
	m, err := c.Seal(ctx, "s1")
	require.NoError(t, err)
	require.True(t, m.Sealed())
	assert.Equal(t, now, *m.SealedAt)

	err = c.Record(ctx, "s1", toolEvent("Edit", time.Second))
	assert.ErrorIs(t, err, ErrSessionClosed)

	again, err := c.Seal(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, *m.SealedAt, *again.SealedAt)
	assert.Len(t, again.Events, 1)
	assert.Equal(t, sealedBefore+1, testutil.ToFloat64(NewCounters().SealedTotal))
}

func TestStart(t *testing.T) {
	c := newCollector(t)
	ctx := context.Background()

	m, err := c.Start(ctx, "s1", "main", base)
	require.NoError(t, err)
	assert.Equal(t, "main", m.Branch)
	assert.Empty(t, m.Events)

	require.NoError(t, c.Record(ctx, "s1", toolEvent("Read", time.Second)))
	m, err = c.Start(ctx, "s1", "other", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "main", m.Branch, "start is a no-op for an existing session")
	assert.Len(t, m.Events, 1)
}

func TestRecord_ScrubsCommands(t *testing.T) {
	c := newCollector(t, WithScrubber(secrets.MustNew(nil)))
	ctx := context.Background()

	ev := toolEvent("Bash", 0)
	ev.Command = "curl -u admin:pw https://x && export API_TOKEN=abcdef0123456789"
	require.NoError(t, c.Record(ctx, "s1", ev))

	m, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.NotContains(t, m.Events[0].Command, "abcdef0123456789")
	assert.Contains(t, m.Events[0].Command, secrets.DefaultRedaction)
}

func TestRecord_KeepsEffects(t *testing.T) {
	c := newCollector(t)
	ctx := context.Background()
	ev := toolEvent("Edit", 0)
	ev.Effects = []requirements.Transition{{Key: "tests", To: requirements.StatusOpen, Actor: "gate"}}
	require.NoError(t, c.Record(ctx, "s1", ev))

	m, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, m.Events[0].Effects, 1)
	assert.Equal(t, "tests", m.Events[0].Effects[0].Key)
	assert.Equal(t, requirements.StatusOpen, m.Events[0].Effects[0].To)
}

func TestRecord_Concurrent(t *testing.T) {
	c := newCollector(t, WithReorderWindow(0))
	ctx := context.Background()
	before := testutil.ToFloat64(NewCounters().EventsTotal.WithLabelValues(string(hooks.HookPreToolUse)))

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.Record(ctx, "s1", toolEvent(fmt.Sprintf("T%d", i), time.Duration(i)*time.Second)))
		}(i)
	}
	wg.Wait()

	m, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, m.Events, 25)
	for i := 1; i < len(m.Events); i++ {
		assert.False(t, m.Events[i].Timestamp.Before(m.Events[i-1].Timestamp))
	}
	after := testutil.ToFloat64(NewCounters().EventsTotal.WithLabelValues(string(hooks.HookPreToolUse)))
	assert.GreaterOrEqual(t, after-before, float64(25))
}

func TestList(t *testing.T) {
	c := newCollector(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "old", "main", base)
	require.NoError(t, err)
	_, err = c.Start(ctx, "feature/x session", "feature/x", base.Add(time.Hour))
	require.NoError(t, err)

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "feature/x session", list[0].SessionID)
	assert.Equal(t, "old", list[1].SessionID)
}

func TestInvalidSessionID(t *testing.T) {
	c := newCollector(t)
	err := c.Record(context.Background(), "", toolEvent("Read", 0))
	assert.ErrorIs(t, err, ErrInvalidSessionID)
	_, err = c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
