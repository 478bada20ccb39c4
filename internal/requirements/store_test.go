package requirements

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/reqgate/internal/logging"
	"github.com/fyrsmithlabs/reqgate/internal/storage"
)

func newStore(t *testing.T) (*Store, *logging.TestLogger) {
	t.Helper()
	docs, err := storage.New(t.TempDir(), 5*time.Second)
	require.NoError(t, err)
	tl := logging.NewTestLogger()
	return NewStore(docs, tl.Logger), tl
}

func TestStore_EnsureCreatesOpenOnce(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	scope := BranchScope("feature/login")

	st, tr, err := s.Ensure(ctx, scope, "design_approved", "gate")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, st.Status)
	assert.True(t, tr.Changed)
	assert.Empty(t, tr.From)

	_, tr, err = s.Ensure(ctx, scope, "design_approved", "gate")
	require.NoError(t, err)
	assert.False(t, tr.Changed)

	got, ok, err := s.Get(ctx, scope, "design_approved")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusOpen, got.Status)
}

func TestStore_GetMissing(t *testing.T) {
	s, _ := newStore(t)
	_, ok, err := s.Get(context.Background(), BranchScope("main"), "nothing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
		changed bool
	}{
		{"open to satisfied", StatusOpen, StatusSatisfied, false, true},
		{"open to skipped", StatusOpen, StatusSkipped, false, true},
		{"skipped to satisfied", StatusSkipped, StatusSatisfied, false, true},
		{"satisfied to open", StatusSatisfied, StatusOpen, true, false},
		{"skipped to open", StatusSkipped, StatusOpen, true, false},
		{"satisfied to skipped", StatusSatisfied, StatusSkipped, true, false},
		{"satisfied again", StatusSatisfied, StatusSatisfied, false, false},
		{"open again", StatusOpen, StatusOpen, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, tl := newStore(t)
			ctx := context.Background()
			scope := BranchScope("b")

			_, _, err := s.Ensure(ctx, scope, "k", "gate")
			require.NoError(t, err)
			if tt.from != StatusOpen {
				_, _, err = s.SetStatus(ctx, scope, "k", tt.from, "setup", "")
				require.NoError(t, err)
			}

			_, tr, err := s.SetStatus(ctx, scope, "k", tt.to, "actor", "")
			got, _, gerr := s.Get(ctx, scope, "k")
			require.NoError(t, gerr)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, got.Status, "state untouched")
				tl.AssertLogged(t, zapcore.WarnLevel, "rejected requirement transition")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.changed, tr.Changed)
			assert.Equal(t, tt.to, got.Status)
		})
	}
}

func TestStore_SatisfiedIsIdempotent(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	scope := BranchScope("b")

	first, _, err := s.SetStatus(ctx, scope, "k", StatusSatisfied, "brainstorming", "")
	require.NoError(t, err)
	require.NotNil(t, first.SatisfiedAt)

	s.now = func() time.Time { return first.SatisfiedAt.Add(time.Hour) }
	second, tr, err := s.SetStatus(ctx, scope, "k", StatusSatisfied, "other", "")
	require.NoError(t, err)
	assert.False(t, tr.Changed)
	assert.Equal(t, "brainstorming", second.SatisfiedBy)
	assert.True(t, first.SatisfiedAt.Equal(*second.SatisfiedAt))
}

func TestStore_SkipRecordsReason(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	st, tr, err := s.SetStatus(ctx, SessionScope("s1"), "tests", StatusSkipped, "cli", "docs only change")
	require.NoError(t, err)
	assert.Equal(t, "docs only change", st.Reason)
	assert.Nil(t, st.SatisfiedAt)
	assert.Empty(t, tr.From)
}

func TestStore_InvalidInputs(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, _, err := s.SetStatus(ctx, BranchScope("b"), "k", Status("done"), "x", "")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, _, err = s.Get(ctx, "repo:x", "k")
	assert.ErrorIs(t, err, ErrInvalidScope)

	_, _, err = s.Ensure(ctx, BranchScope(""), "k", "x")
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestStore_ConcurrentWritersSerialize(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	scope := BranchScope("main")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("req-%d", i%5)
			_, _, err := s.Ensure(ctx, scope, key, "gate")
			assert.NoError(t, err)
			_, _, err = s.SetStatus(ctx, scope, key, StatusSatisfied, "skill", "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	states, err := s.List(ctx, scope)
	require.NoError(t, err)
	require.Len(t, states, 5)
	for _, st := range states {
		assert.Equal(t, StatusSatisfied, st.Status, st.Key)
	}
	assert.Equal(t, "req-0", states[0].Key)
}

func TestStore_SatisfiedNeverObservedOpenUntilReset(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	scope := BranchScope("feature")

	_, _, err := s.SetStatus(ctx, scope, "k", StatusSatisfied, "skill", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _, err := s.Ensure(ctx, scope, "k", "gate")
		require.NoError(t, err)
		_, _, _ = s.SetStatus(ctx, scope, "k", StatusOpen, "gate", "")
		st, _, err := s.Get(ctx, scope, "k")
		require.NoError(t, err)
		assert.Equal(t, StatusSatisfied, st.Status)
	}

	keys, err := s.ResetBranch(ctx, "feature", "cli")
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	_, ok, err := s.Get(ctx, scope, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	st, _, err := s.Ensure(ctx, scope, "k", "gate")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, st.Status)

	resets, err := s.Resets(ctx)
	require.NoError(t, err)
	require.Len(t, resets, 1)
	assert.Equal(t, "feature", resets[0].Branch)
	assert.Equal(t, "cli", resets[0].Actor)
}

func TestStore_ScopesAreIndependent(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, _, err := s.SetStatus(ctx, BranchScope("a"), "k", StatusSatisfied, "x", "")
	require.NoError(t, err)
	_, _, err = s.Ensure(ctx, BranchScope("b"), "k", "gate")
	require.NoError(t, err)

	a, _, _ := s.Get(ctx, BranchScope("a"), "k")
	b, _, _ := s.Get(ctx, BranchScope("b"), "k")
	assert.Equal(t, StatusSatisfied, a.Status)
	assert.Equal(t, StatusOpen, b.Status)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("Satisfied")
	require.NoError(t, err)
	assert.Equal(t, StatusSatisfied, st)
	assert.True(t, st.Terminal())
	assert.False(t, StatusOpen.Terminal())

	_, err = ParseStatus("closed")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
