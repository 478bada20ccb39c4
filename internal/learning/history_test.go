package learning

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reqgate/internal/secrets"
	"github.com/fyrsmithlabs/reqgate/internal/storage"
)

func newManager(t *testing.T) (*Manager, *Artifacts) {
	t.Helper()
	docs, err := storage.New(t.TempDir(), 5*time.Second)
	require.NoError(t, err)
	arts, err := NewArtifacts(t.TempDir())
	require.NoError(t, err)
	return NewManager(docs, arts, WithScrubber(secrets.MustNew(nil))), arts
}

func memoryRec(target, content string) Recommendation {
	return Recommendation{
		Category:       CategoryMemory,
		Pattern:        PatternRepeatedLookup,
		TargetArtifact: target,
		Title:          "t",
		Content:        content,
		Confidence:     0.8,
		SourceSession:  "s1",
	}
}

func propose(t *testing.T, m *Manager, recs ...Recommendation) []Recommendation {
	t.Helper()
	out, err := m.Propose(context.Background(), "s1", recs)
	require.NoError(t, err)
	require.Len(t, out, len(recs))
	return out
}

func TestPropose_AssignsIDs(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	first := propose(t, m, memoryRec("memories/a.md", "a"), memoryRec("memories/b.md", "b"))
	assert.Equal(t, uint64(1), first[0].ID)
	assert.Equal(t, uint64(2), first[1].ID)

	again, err := m.Propose(ctx, "s1", []Recommendation{memoryRec("memories/a.md", "a")})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), again[0].ID, "pending duplicate is not proposed twice")

	rec := memoryRec("memories/c.md", "c")
	rec.SourceSession = "s2"
	out, err := m.Propose(ctx, "s2", []Recommendation{rec})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), out[0].ID)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), snap.StartID)

	got, err := m.Recommendation(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "memories/b.md", got.TargetArtifact)
	_, err = m.Recommendation(ctx, 99)
	assert.ErrorIs(t, err, ErrRecommendationNotFound)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Proposed)
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 2, stats.AnalyzedSessions)
}

func TestApplyAndRollback_Create(t *testing.T) {
	m, arts := newManager(t)
	ctx := context.Background()
	rec := propose(t, m, memoryRec("memories/config-py.md", "## config.py\n"))[0]

	entry, err := m.Apply(ctx, rec, "alice")
	require.NoError(t, err)
	assert.Nil(t, entry.PriorContent)
	assert.Equal(t, StatusApplied, entry.Status)
	assert.Equal(t, "alice", entry.Approver)
	assert.NotEmpty(t, entry.ID)

	content, exists, err := arts.Read("memories/config-py.md")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, "## config.py\n", content)
	assert.Equal(t, Hash(content), entry.AppliedHash)

	_, err = m.Apply(ctx, rec, "alice")
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	rolled, err := m.Rollback(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, rolled.Status)
	require.NotNil(t, rolled.RolledBackAt)

	_, exists, err = arts.Read("memories/config-py.md")
	require.NoError(t, err)
	assert.False(t, exists, "rolling back a create deletes the artifact")

	_, err = m.Rollback(ctx, entry.ID)
	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, AlreadyRolledBack, rbErr.Reason)
	assert.ErrorIs(t, err, ErrRollback)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Applied)
	assert.Equal(t, 1, stats.RolledBack)
	assert.Equal(t, 1, stats.Pending)
}

func TestApplyAndRollback_AppendRestoresExactly(t *testing.T) {
	m, arts := newManager(t)
	ctx := context.Background()
	prior := "# Notes\n\nkeep this byte-for-byte  \n"
	require.NoError(t, arts.Write("memories/notes.md", prior))

	rec := propose(t, m, memoryRec("memories/notes.md", "new fact"))[0]
	entry, err := m.Apply(ctx, rec, "bob")
	require.NoError(t, err)
	require.NotNil(t, entry.PriorContent)
	assert.Equal(t, prior, *entry.PriorContent)

	content, _, err := arts.Read("memories/notes.md")
	require.NoError(t, err)
	assert.Equal(t, prior+"\nnew fact", content)

	_, err = m.Rollback(ctx, entry.ID)
	require.NoError(t, err)
	content, _, err = arts.Read("memories/notes.md")
	require.NoError(t, err)
	assert.Equal(t, prior, content)
}

func TestRollback_DriftedArtifactUntouched(t *testing.T) {
	m, arts := newManager(t)
	ctx := context.Background()
	rec := propose(t, m, memoryRec("memories/x.md", "generated"))[0]
	entry, err := m.Apply(ctx, rec, "carol")
	require.NoError(t, err)

	require.NoError(t, arts.Write("memories/x.md", "generated\nhand edit"))

	_, err = m.Rollback(ctx, entry.ID)
	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, ArtifactDrifted, rbErr.Reason)

	content, _, err := arts.Read("memories/x.md")
	require.NoError(t, err)
	assert.Equal(t, "generated\nhand edit", content)

	entries, err := m.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, entries[0].Status)
}

func TestApply_DriftAgainstLatestEntry(t *testing.T) {
	m, arts := newManager(t)
	ctx := context.Background()
	second := memoryRec("memories/x.md", "two")
	second.Pattern = PatternFriction
	recs := propose(t, m, memoryRec("memories/x.md", "one"), second)

	_, err := m.Apply(ctx, recs[0], "dan")
	require.NoError(t, err)
	require.NoError(t, arts.Write("memories/x.md", "edited by hand"))

	_, err = m.Apply(ctx, recs[1], "dan")
	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, ArtifactDrifted, rbErr.Reason)

	content, _, err := arts.Read("memories/x.md")
	require.NoError(t, err)
	assert.Equal(t, "edited by hand", content)
}

func TestRollback_LastInFirstOut(t *testing.T) {
	m, arts := newManager(t)
	ctx := context.Background()
	a := memoryRec("memories/x.md", "one")
	b := memoryRec("memories/x.md", "two")
	b.Pattern = PatternFriction
	recs := propose(t, m, a, b)

	first, err := m.Apply(ctx, recs[0], "erin")
	require.NoError(t, err)
	second, err := m.Apply(ctx, recs[1], "erin")
	require.NoError(t, err)

	_, err = m.Rollback(ctx, first.ID)
	assert.ErrorIs(t, err, ErrRollback, "an older entry cannot be rolled back past a newer one")

	_, err = m.Rollback(ctx, second.ID)
	require.NoError(t, err)
	_, err = m.Rollback(ctx, first.ID)
	require.NoError(t, err)

	_, exists, err := arts.Read("memories/x.md")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestApply_ScrubsContent(t *testing.T) {
	m, arts := newManager(t)
	rec := propose(t, m, memoryRec("memories/deploy.md", "run with TOKEN=supersecretvalue123"))[0]
	_, err := m.Apply(context.Background(), rec, "fay")
	require.NoError(t, err)

	content, _, err := arts.Read("memories/deploy.md")
	require.NoError(t, err)
	assert.NotContains(t, content, "supersecretvalue123")
	assert.Contains(t, content, secrets.DefaultRedaction)
}

func TestApply_UnknownRecommendation(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Apply(context.Background(), memoryRec("memories/a.md", "x"), "gus")
	assert.ErrorIs(t, err, ErrRecommendationNotFound)
	_, err = m.Rollback(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestApply_CancelledHasNoSideEffects(t *testing.T) {
	m, arts := newManager(t)
	rec := propose(t, m, memoryRec("memories/a.md", "x"))[0]
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Apply(ctx, rec, "hal")
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(filepath.Join(arts.Root(), "memories", "a.md"))
	assert.True(t, os.IsNotExist(statErr))
}

// slowScrubber stands in for a scrubber working through a large body.
type slowScrubber struct{ delay time.Duration }

func (s slowScrubber) Scrub(content string) *secrets.Result {
	time.Sleep(s.delay)
	return &secrets.Result{Scrubbed: content, ByRule: map[string]int{}}
}

func (s slowScrubber) Check(content string) *secrets.Result { return s.Scrub(content) }

func (slowScrubber) IsEnabled() bool { return true }

func TestApply_StorageTimeoutLeavesNothingBehind(t *testing.T) {
	docs, err := storage.New(t.TempDir(), 200*time.Millisecond)
	require.NoError(t, err)
	arts, err := NewArtifacts(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	seed := NewManager(docs, arts)
	rec := propose(t, seed, memoryRec("memories/slow.md", "remember this"))[0]

	m := NewManager(docs, arts, WithScrubber(slowScrubber{delay: 400 * time.Millisecond}))
	_, err = m.Apply(ctx, rec, "ida")
	require.ErrorIs(t, err, storage.ErrStorageUnavailable)

	_, exists, err := arts.Read("memories/slow.md")
	require.NoError(t, err)
	assert.False(t, exists, "artifact write is undone when the history entry is not persisted")
	entries, err := seed.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	pending, err := seed.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1, "the recommendation can still be applied later")

	entry, err := seed.Apply(ctx, pending[0], "ida")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, entry.RecommendationID)
}

func TestSetDisabled(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.SetDisabled(ctx, true))
	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Disabled)
	require.NoError(t, m.SetDisabled(ctx, false))
	s, err := m.State(ctx)
	require.NoError(t, err)
	assert.False(t, s.Disabled)
}
