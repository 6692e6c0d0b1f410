package patcher

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patchkit-go/patchkit/index/memindex"
)

func buildInstallIndex() *memindex.Index {
	b := memindex.NewBuilder().SetVersion("2.0", "version.ver", "version.bck")
	b.SetSourceLastPtr(0, 8)
	b.AddTarget("a.bin", 8).
		AddSourcePart(0, 0, []byte("aaaaaaaa"), 0)
	b.AddTarget("b.bin", 4).
		AddEmbeddedPart([]byte("bbbb"))
	return b.Build()
}

func TestPatcherInstallEndToEndIsIdempotent(t *testing.T) {
	ix := buildInstallIndex()
	root := t.TempDir()

	p, err := New(ix, root, t.TempDir(), Callbacks{})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.AttachAllForRead())
	require.NoError(t, p.AttachMissingForWrite())
	require.NoError(t, p.VerifyFiles(2, nil))
	require.False(t, p.Ledger().IsEmpty())

	p.QueueStreamInstall(0, bytes.NewReader([]byte("aaaaaaaa")), 1)
	require.NoError(t, p.Install(2, nil))
	require.True(t, p.Ledger().IsEmpty())
	require.NoError(t, p.WriteVersionFiles())

	gotA, err := os.ReadFile(root + "/a.bin")
	require.NoError(t, err)
	require.Equal(t, "aaaaaaaa", string(gotA))

	gotB, err := os.ReadFile(root + "/b.bin")
	require.NoError(t, err)
	require.Equal(t, "bbbb", string(gotB))

	require.NoError(t, p.Close())

	p2, err := New(ix, root, t.TempDir(), Callbacks{})
	require.NoError(t, err)
	defer p2.Close()

	require.NoError(t, p2.AttachAllForRead())
	require.NoError(t, p2.AttachMissingForWrite())
	require.NoError(t, p2.VerifyFiles(2, nil))
	require.True(t, p2.Ledger().IsEmpty(), "a fully-installed tree must re-verify clean with nothing left to repair")

	require.NoError(t, p2.Install(2, nil))
	require.True(t, p2.Ledger().IsEmpty())
}

func TestPatcherAttachAllForReadMarksAbsentTargetsMissing(t *testing.T) {
	ix := buildInstallIndex()
	root := t.TempDir()

	p, err := New(ix, root, t.TempDir(), Callbacks{})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.AttachAllForRead())
	require.False(t, p.Ledger().IsEmpty())
	require.Len(t, p.Ledger().MissingPartsForPatch(0), 1)
}

func TestPatcherInstallObservesCancellation(t *testing.T) {
	ix := buildInstallIndex()
	root := t.TempDir()

	p, err := New(ix, root, t.TempDir(), Callbacks{})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.AttachAllForRead())
	require.NoError(t, p.AttachMissingForWrite())
	require.NoError(t, p.VerifyFiles(2, nil))

	p.QueueStreamInstall(0, bytes.NewReader([]byte("aaaaaaaa")), 1)

	cancellation := make(chan struct{})
	close(cancellation)
	err = p.Install(2, cancellation)
	require.ErrorIs(t, err, ErrCancelled)
}
