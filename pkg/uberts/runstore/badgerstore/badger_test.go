package badgerstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/runstore"
	"github.com/cognicore/uberts/pkg/uberts/runstore/storetest"
)

func TestBadgerInMemoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) runstore.Store {
		st, err := Open(Config{InMemory: true})
		require.NoError(t, err)
		return st
	})
}

func TestBadgerOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "runs")

	st, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, st.SaveRun(ctx, runstore.Run{ID: "01A", DocID: "d1", Mode: "train", Outcome: "done"}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer st.Close()

	got, ok, err := st.GetRun(ctx, "01A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "train", got.Mode)
}

func TestBadgerRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}
