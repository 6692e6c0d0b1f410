package patcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patchkit-go/patchkit/index/memindex"
)

func buildTwoPartIndex() *memindex.Index {
	b := memindex.NewBuilder().SetVersion("1.0", "version.ver", "version.bck")
	b.SetSourceLastPtr(0, 1024)
	b.AddTarget("a.bin", 8).
		AddSourcePart(0, 0, []byte("aaaaaaaa"), 0)
	b.AddTarget("b.bin", 4).
		AddEmbeddedPart([]byte("bbbb"))
	return b.Build()
}

func TestLedgerMarkFileAsMissingCoversAllParts(t *testing.T) {
	ix := buildTwoPartIndex()
	l := NewLedger()

	l.MarkFileAsMissing(ix.Target(0), 0)
	l.MarkFileAsMissing(ix.Target(1), 1)

	require.False(t, l.IsEmpty())
	require.ElementsMatch(t, []partRef{{targetIndex: 0, partIndex: 0}}, l.MissingPartsForPatch(0))

	missingNonPatch := l.MissingNonPatchParts(ix)
	require.Equal(t, []int{0}, missingNonPatch[1])
}

func TestLedgerClearPartRemovesFromBothSets(t *testing.T) {
	ix := buildTwoPartIndex()
	l := NewLedger()
	l.MarkFileAsMissing(ix.Target(0), 0)

	require.Len(t, l.MissingPartsForPatch(0), 1)

	l.clearPart(0, 0, true, 0)

	require.Empty(t, l.MissingPartsForPatch(0))
	require.True(t, l.IsEmpty())
}

func TestLedgerSizeMismatchTracksTargetsNeedingWrite(t *testing.T) {
	l := NewLedger()
	l.MarkSizeMismatch(3)

	require.Equal(t, []int{3}, l.SizeMismatchTargets())
	require.Equal(t, []int{3}, l.TargetsNeedingWrite())
}

func TestLedgerTargetsNeedingWriteUnionsBothSources(t *testing.T) {
	ix := buildTwoPartIndex()
	l := NewLedger()
	l.MarkFileAsMissing(ix.Target(0), 0)
	l.MarkSizeMismatch(1)

	require.ElementsMatch(t, []int{0, 1}, l.TargetsNeedingWrite())
}
