package patcher

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNonPatchReconstructorWritesEmbeddedParts(t *testing.T) {
	ix := buildTwoPartIndex()
	ledger := NewLedger()
	registry := NewRegistry(ix, ledger, newTestLogger(t))
	dir := t.TempDir()

	require.NoError(t, registry.AttachForWriteFromFile(1, dir+"/b.bin", false))
	defer registry.CloseAll()

	ledger.MarkFileAsMissing(ix.Target(1), 1)

	rec := NewNonPatchReconstructor(ix, registry, ledger)
	require.NoError(t, rec.RepairNonPatchData(nil))

	got, err := os.ReadFile(dir + "/b.bin")
	require.NoError(t, err)
	require.Equal(t, "bbbb", string(got))
	require.Empty(t, ledger.MissingNonPatchParts(ix)[1])
}

func TestNonPatchReconstructorObservesCancellation(t *testing.T) {
	ix := buildTwoPartIndex()
	ledger := NewLedger()
	registry := NewRegistry(ix, ledger, newTestLogger(t))
	ledger.MarkFileAsMissing(ix.Target(1), 1)

	rec := NewNonPatchReconstructor(ix, registry, ledger)
	cancellation := make(chan struct{})
	close(cancellation)

	err := rec.RepairNonPatchData(cancellation)
	require.ErrorIs(t, err, ErrCancelled)
}
