package patcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patchkit-go/patchkit/index"
	"github.com/patchkit-go/patchkit/persist"
)

func newTestLogger(t *testing.T) logger {
	l, err := persist.NewLogger(t.TempDir() + "/test.log")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestVerifierPassesIntactTargets(t *testing.T) {
	ix := buildTwoPartIndex()
	ledger := NewLedger()
	registry := NewRegistry(ix, ledger, newTestLogger(t))

	dir := t.TempDir()
	require.NoError(t, registry.AttachForWriteFromFile(0, dir+"/a.bin", false))
	require.NoError(t, registry.AttachForWriteFromFile(1, dir+"/b.bin", false))
	require.NoError(t, registry.WriteToTarget(0, 0, []byte("aaaaaaaa")))
	require.NoError(t, registry.WriteToTarget(1, 0, []byte("bbbb")))
	registry.CloseAll()

	require.NoError(t, registry.AttachAllForRead(dir))
	defer registry.CloseAll()

	v := NewVerifier(ix, registry, ledger, Callbacks{})
	require.NoError(t, v.VerifyFiles(2, nil))
	require.True(t, ledger.IsEmpty())
}

func TestVerifierFlagsCorruptPart(t *testing.T) {
	ix := buildTwoPartIndex()
	ledger := NewLedger()
	registry := NewRegistry(ix, ledger, newTestLogger(t))

	dir := t.TempDir()
	require.NoError(t, registry.AttachForWriteFromFile(0, dir+"/a.bin", false))
	require.NoError(t, registry.AttachForWriteFromFile(1, dir+"/b.bin", false))
	require.NoError(t, registry.WriteToTarget(0, 0, []byte("CORRUPTD")))
	require.NoError(t, registry.WriteToTarget(1, 0, []byte("bbbb")))
	registry.CloseAll()

	require.NoError(t, registry.AttachAllForRead(dir))
	defer registry.CloseAll()

	var corruptionsFound int
	v := NewVerifier(ix, registry, ledger, Callbacks{
		OnCorruptionFound: func(p index.Part, result index.VerifyResult) {
			corruptionsFound++
			require.Equal(t, 0, p.TargetIndex())
		},
	})

	require.NoError(t, v.VerifyFiles(2, nil))
	require.Equal(t, 1, corruptionsFound)
	require.False(t, ledger.IsEmpty())
	require.ElementsMatch(t, []partRef{{targetIndex: 0, partIndex: 0}}, ledger.MissingPartsForPatch(0))
}

func TestVerifierObservesCancellation(t *testing.T) {
	ix := buildTwoPartIndex()
	ledger := NewLedger()
	registry := NewRegistry(ix, ledger, newTestLogger(t))

	dir := t.TempDir()
	require.NoError(t, registry.AttachForWriteFromFile(0, dir+"/a.bin", false))
	require.NoError(t, registry.WriteToTarget(0, 0, []byte("aaaaaaaa")))
	registry.CloseAll()
	require.NoError(t, registry.AttachAllForRead(dir))
	defer registry.CloseAll()

	v := NewVerifier(ix, registry, ledger, Callbacks{})
	cancellation := make(chan struct{})
	close(cancellation)

	err := v.VerifyFiles(2, cancellation)
	require.ErrorIs(t, err, ErrCancelled)
}
