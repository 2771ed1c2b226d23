// Package storetest checks runstore.Store implementations against the
// shared contract.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/labels"
	"github.com/cognicore/uberts/pkg/uberts/runstore"
)

// Run exercises a store. open must return an empty store; Run closes it.
func Run(t *testing.T, open func(t *testing.T) runstore.Store) {
	t.Run("RoundTrip", func(t *testing.T) { roundTrip(t, open(t)) })
	t.Run("Replace", func(t *testing.T) { replace(t, open(t)) })
	t.Run("List", func(t *testing.T) { list(t, open(t)) })
	t.Run("Missing", func(t *testing.T) { missing(t, open(t)) })
}

func sample(id, doc, mode string) runstore.Run {
	return runstore.Run{
		ID:        id,
		DocID:     doc,
		Mode:      mode,
		Outcome:   "done",
		Epoch:     2,
		Commits:   2,
		Steps:     5,
		StartedAt: time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC),
		Duration:  1500 * time.Microsecond,
		Facts: []runstore.Fact{
			{Relation: "verb", Args: []string{"1"}, Score: 0.5, Gold: true},
			{Relation: "tok", Args: []string{"1", "New York"}, Score: -1},
		},
		Perf: map[string]labels.Perf{
			"verb": {TP: 1},
			"tok":  {FP: 1, FN: 2},
		},
	}
}

func roundTrip(t *testing.T, st runstore.Store) {
	defer st.Close()
	ctx := context.Background()

	want := sample("01A", "d1", "greedy")
	require.NoError(t, st.SaveRun(ctx, want))

	got, ok, err := st.GetRun(ctx, "01A")
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, want.StartedAt.Equal(got.StartedAt), "started_at %v vs %v", want.StartedAt, got.StartedAt)
	got.StartedAt = want.StartedAt
	assert.Equal(t, want, got)
	assert.Equal(t, labels.Perf{TP: 1, FP: 1, FN: 2}, got.TotalPerf())

	// The store keeps its own copy.
	got.Facts[0].Args[0] = "changed"
	again, _, err := st.GetRun(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, "1", again.Facts[0].Args[0])
}

func replace(t *testing.T, st runstore.Store) {
	defer st.Close()
	ctx := context.Background()

	r := sample("01A", "d1", "greedy")
	require.NoError(t, st.SaveRun(ctx, r))

	r.Outcome = "budget_exceeded"
	r.Error = "boom"
	r.Facts = r.Facts[:1]
	r.Perf = map[string]labels.Perf{"verb": {FP: 3}}
	require.NoError(t, st.SaveRun(ctx, r))

	got, ok, err := st.GetRun(ctx, "01A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "budget_exceeded", got.Outcome)
	assert.Equal(t, "boom", got.Error)
	assert.Len(t, got.Facts, 1)
	assert.Equal(t, map[string]labels.Perf{"verb": {FP: 3}}, got.Perf)

	runs, err := st.ListRuns(ctx, runstore.Filter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func list(t *testing.T, st runstore.Store) {
	defer st.Close()
	ctx := context.Background()

	// Saved out of order on purpose.
	for _, r := range []runstore.Run{
		sample("03C", "d1", "train"),
		sample("01A", "d1", "greedy"),
		sample("02B", "d2", "greedy"),
		sample("04D", "d2", "train"),
	} {
		require.NoError(t, st.SaveRun(ctx, r))
	}

	ids := func(f runstore.Filter) []string {
		runs, err := st.ListRuns(ctx, f)
		require.NoError(t, err)
		out := make([]string, len(runs))
		for i, r := range runs {
			out[i] = r.ID
		}
		return out
	}
	assert.Equal(t, []string{"01A", "02B", "03C", "04D"}, ids(runstore.Filter{}))
	assert.Equal(t, []string{"01A", "03C"}, ids(runstore.Filter{DocID: "d1"}))
	assert.Equal(t, []string{"03C", "04D"}, ids(runstore.Filter{Mode: "train"}))
	assert.Equal(t, []string{"04D"}, ids(runstore.Filter{DocID: "d2", Mode: "train"}))
	assert.Equal(t, []string{"01A", "02B"}, ids(runstore.Filter{Limit: 2}))
	assert.Empty(t, ids(runstore.Filter{DocID: "nope"}))

	runs, err := st.ListRuns(ctx, runstore.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Facts, 2, "listed runs carry their facts")
}

func missing(t *testing.T, st runstore.Store) {
	defer st.Close()
	ctx := context.Background()

	_, ok, err := st.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, st.SaveRun(ctx, runstore.Run{}), internalerr.ErrInvalidInput)
}
