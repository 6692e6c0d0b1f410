package memindex

import (
	"bytes"
	"testing"

	"github.com/NebulousLabs/fastrand"
	"github.com/stretchr/testify/require"

	"github.com/patchkit-go/patchkit/index"
)

type fakeStream struct {
	data []byte
}

func (f *fakeStream) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(f.data).ReadAt(p, off)
}
func (f *fakeStream) WriteAt(p []byte, off int64) (int, error) {
	for int64(len(f.data)) < off+int64(len(p)) {
		f.data = append(f.data, 0)
	}
	copy(f.data[off:], p)
	return len(p), nil
}
func (f *fakeStream) Seek(offset int64, whence int) (int64, error) { return 0, nil }
func (f *fakeStream) Close() error                                 { return nil }
func (f *fakeStream) Truncate(size int64) error {
	for int64(len(f.data)) < size {
		f.data = append(f.data, 0)
	}
	f.data = f.data[:size]
	return nil
}
func (f *fakeStream) Sync() error          { return nil }
func (f *fakeStream) Len() (int64, error)  { return int64(len(f.data)), nil }

func TestBuilderAssignsSequentialOffsetsWithinATarget(t *testing.T) {
	ix := NewBuilder().SetVersion("1.0", "v.ver", "v.bck")
	tb := ix.AddTarget("out.bin", 12).
		AddSourcePart(0, 0, []byte("aaaa"), 0).
		AddSourcePart(0, 4, []byte("bbbbb"), 0).
		AddEmbeddedPart([]byte("ccc"))

	built := tb.Done().Build()
	target := built.Target(0)
	require.Equal(t, 3, target.NumParts())
	require.EqualValues(t, 0, target.Part(0).TargetOffset())
	require.EqualValues(t, 4, target.Part(1).TargetOffset())
	require.EqualValues(t, 9, target.Part(2).TargetOffset())
	require.Equal(t, "out.bin", target.Path())
	require.EqualValues(t, 12, target.FileSize())
}

func TestPartVerifyPassesOnMatchingBytes(t *testing.T) {
	ix := NewBuilder().SetVersion("1.0", "v.ver", "v.bck")
	ix.AddTarget("out.bin", 4).AddEmbeddedPart([]byte("abcd"))
	p := ix.Build().Target(0).Part(0)

	s := &fakeStream{data: []byte("abcd")}
	require.Equal(t, index.Pass, p.Verify(s))
}

func TestPartVerifyFailsBadDataOnContentMismatch(t *testing.T) {
	ix := NewBuilder().SetVersion("1.0", "v.ver", "v.bck")
	ix.AddTarget("out.bin", 4).AddEmbeddedPart([]byte("abcd"))
	p := ix.Build().Target(0).Part(0)

	s := &fakeStream{data: []byte("wxyz")}
	require.Equal(t, index.FailBadData, p.Verify(s))
}

func TestPartVerifyFailsNotEnoughDataOnShortStream(t *testing.T) {
	ix := NewBuilder().SetVersion("1.0", "v.ver", "v.bck")
	ix.AddTarget("out.bin", 4).AddEmbeddedPart([]byte("abcd"))
	p := ix.Build().Target(0).Part(0)

	s := &fakeStream{data: []byte("ab")}
	require.Equal(t, index.FailNotEnoughData, p.Verify(s))
}

func TestPartReconstructCopiesExactlyTargetSizeFromSource(t *testing.T) {
	ix := NewBuilder().SetVersion("1.0", "v.ver", "v.bck")
	ix.SetSourceLastPtr(0, 4)
	ix.AddTarget("out.bin", 4).AddSourcePart(0, 0, []byte("abcd"), 0)
	p := ix.Build().Target(0).Part(0)

	out := make([]byte, 4)
	require.NoError(t, p.Reconstruct(bytes.NewReader([]byte("abcd")), out))
	require.Equal(t, "abcd", string(out))
}

func TestPartReconstructWithoutSourceDataEmitsEmbeddedContent(t *testing.T) {
	ix := NewBuilder().SetVersion("1.0", "v.ver", "v.bck")
	ix.AddTarget("out.bin", 3).AddEmbeddedPart([]byte("xyz"))
	p := ix.Build().Target(0).Part(0)

	out := make([]byte, 3)
	require.NoError(t, p.ReconstructWithoutSourceData(out))
	require.Equal(t, "xyz", string(out))
}

func TestGetSourceLastPtrDefaultsToZeroForUnboundedSource(t *testing.T) {
	ix := NewBuilder().SetVersion("1.0", "v.ver", "v.bck").Build()
	require.EqualValues(t, 0, ix.GetSourceLastPtr(5))
}

// TestPartVerifyRoundTripsRandomContent generates random-sized fixtures with
// fastrand rather than fixed literals, catching any off-by-one in the
// xxhash/Merkle comparison that a single hand-picked size might miss.
func TestPartVerifyRoundTripsRandomContent(t *testing.T) {
	for i := 0; i < 8; i++ {
		size := fastrand.Intn(4096) + 1
		content := fastrand.Bytes(size)

		ix := NewBuilder().SetVersion("1.0", "v.ver", "v.bck")
		ix.AddTarget("out.bin", int64(size)).AddEmbeddedPart(content)
		p := ix.Build().Target(0).Part(0)

		require.Equal(t, index.Pass, p.Verify(&fakeStream{data: content}))

		corrupt := append([]byte(nil), content...)
		corrupt[fastrand.Intn(size)] ^= 0xFF
		require.Equal(t, index.FailBadData, p.Verify(&fakeStream{data: corrupt}))
	}
}
