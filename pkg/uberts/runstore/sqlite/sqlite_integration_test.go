package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/uberts/pkg/uberts/runstore"
	"github.com/cognicore/uberts/pkg/uberts/runstore/storetest"
)

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) runstore.Store {
		st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
		require.NoError(t, err)
		return st
	})
}

// TestSQLiteReopen checks that runs survive closing the database.
func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	st, err := OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, st.SaveRun(ctx, runstore.Run{
		ID:      "01A",
		DocID:   "d1",
		Mode:    "greedy",
		Outcome: "done",
		Facts:   []runstore.Fact{{Relation: "verb", Args: []string{"1"}}},
	}))
	require.NoError(t, st.Close())

	st, err = OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	defer st.Close()

	got, ok, err := st.GetRun(ctx, "01A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "d1", got.DocID)
	assert.Equal(t, []string{"1"}, got.Facts[0].Args)
	assert.Nil(t, got.Perf)
}
