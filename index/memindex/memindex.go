// Package memindex is an in-memory reference implementation of index.Index,
// used by tests and by the cmd/patchinstall demonstration harness. It is not
// a patch index builder — building an index is out of scope for this
// module — it exists only to give the opaque Verify/Reconstruct contract a
// concrete, inspectable body.
package memindex

import (
	"bytes"
	"crypto/sha256"
	"io"

	"github.com/NebulousLabs/merkletree"
	"github.com/cespare/xxhash/v2"

	"github.com/patchkit-go/patchkit/index"
)

// verifySegmentSize is the leaf size used when hashing a part's expected
// bytes into a Merkle root for the belt-and-suspenders integrity check.
const verifySegmentSize = 64

// part is the concrete index.Part used by memindex.
type part struct {
	targetIndex int
	partIndex   int

	targetOffset int64
	targetSize   int64

	fromSource   bool
	sourceIndex  int
	sourceOffset int64
	maxSourceEnd int64

	// expected holds the fully reconstructed bytes this part should
	// produce. For source-backed parts it is also what Reconstruct copies
	// out of the supplied byte stream (memindex does not encode/transform
	// data, it only relays the patch index's test fixtures); for
	// index-only parts it is what ReconstructWithoutSourceData emits.
	expected  []byte
	quickHash uint64
	merkle    []byte
}

func newPart(expected []byte) *part {
	p := &part{
		expected:  append([]byte(nil), expected...),
		quickHash: xxhash.Sum64(expected),
	}
	root, err := merkletree.ReaderMerkleRoot(bytes.NewReader(expected), sha256.New(), verifySegmentSize)
	if err == nil {
		p.merkle = root
	}
	return p
}

func (p *part) TargetIndex() int        { return p.targetIndex }
func (p *part) PartIndex() int          { return p.partIndex }
func (p *part) TargetOffset() int64     { return p.targetOffset }
func (p *part) TargetSize() int64       { return p.targetSize }
func (p *part) IsFromSourceFile() bool  { return p.fromSource }
func (p *part) SourceIndex() int        { return p.sourceIndex }
func (p *part) SourceOffset() int64     { return p.sourceOffset }
func (p *part) MaxSourceEnd() int64     { return p.maxSourceEnd }

// Verify reads TargetSize bytes at TargetOffset from target and compares
// them against the part's expected content. A cheap xxhash fingerprint
// rejects mismatches quickly; a Merkle root recheck guards against the
// (cryptographically improbable) case of an xxhash collision, exercising
// the same defense in depth a real content-addressed index would use.
func (p *part) Verify(target index.Stream) index.VerifyResult {
	buf := make([]byte, p.targetSize)
	n, err := target.ReadAt(buf, p.targetOffset)
	if err != nil && err != io.EOF {
		return index.FailNotEnoughData
	}
	if int64(n) < p.targetSize {
		return index.FailNotEnoughData
	}
	if xxhash.Sum64(buf) != p.quickHash {
		return index.FailBadData
	}
	if p.merkle != nil {
		root, err := merkletree.ReaderMerkleRoot(bytes.NewReader(buf), sha256.New(), verifySegmentSize)
		if err != nil || !bytes.Equal(root, p.merkle) {
			return index.FailBadData
		}
	}
	return index.Pass
}

// Reconstruct relays exactly TargetSize bytes from source into out.
func (p *part) Reconstruct(source index.SourceByteStream, out []byte) error {
	_, err := io.ReadFull(source, out[:p.targetSize])
	return err
}

// ReconstructWithoutSourceData copies the part's embedded content into out.
func (p *part) ReconstructWithoutSourceData(out []byte) error {
	copy(out, p.expected)
	return nil
}

// target is the concrete index.Target used by memindex.
type target struct {
	path     string
	fileSize int64
	parts    []*part
}

func (t *target) Path() string     { return t.path }
func (t *target) FileSize() int64  { return t.fileSize }
func (t *target) NumParts() int    { return len(t.parts) }
func (t *target) Part(i int) index.Part { return t.parts[i] }

// Index is the concrete index.Index used by memindex.
type Index struct {
	targets         []*target
	sourceLastPtr   []int64
	versionName     string
	versionFileVer  string
	versionFileBck  string
}

func (ix *Index) NumTargets() int            { return len(ix.targets) }
func (ix *Index) Target(i int) index.Target  { return ix.targets[i] }
func (ix *Index) NumSourcePatches() int      { return len(ix.sourceLastPtr) }
func (ix *Index) VersionName() string        { return ix.versionName }
func (ix *Index) VersionFileVer() string     { return ix.versionFileVer }
func (ix *Index) VersionFileBck() string     { return ix.versionFileBck }

// GetSourceLastPtr returns the exclusive upper bound for sourceIndex, or 0 if
// sourceIndex has never been bounded via Builder.SetSourceLastPtr.
func (ix *Index) GetSourceLastPtr(sourceIndex int) int64 {
	if sourceIndex < 0 || sourceIndex >= len(ix.sourceLastPtr) {
		return 0
	}
	return ix.sourceLastPtr[sourceIndex]
}

// Builder assembles an Index one target and part at a time. It is a
// hand-rolled test fixture, not a production builder.
type Builder struct {
	ix *Index
}

// NewBuilder starts a new Index under construction.
func NewBuilder() *Builder {
	return &Builder{ix: &Index{}}
}

// SetVersion records the version metadata the built Index reports.
func (b *Builder) SetVersion(name, verFile, bckFile string) *Builder {
	b.ix.versionName = name
	b.ix.versionFileVer = verFile
	b.ix.versionFileBck = bckFile
	return b
}

// SetSourceLastPtr records the exclusive upper bound for a source patch,
// growing the source-patch count if necessary.
func (b *Builder) SetSourceLastPtr(sourceIndex int, lastPtr int64) *Builder {
	for len(b.ix.sourceLastPtr) <= sourceIndex {
		b.ix.sourceLastPtr = append(b.ix.sourceLastPtr, 0)
	}
	b.ix.sourceLastPtr[sourceIndex] = lastPtr
	return b
}

// TargetBuilder adds parts to a single target under construction.
type TargetBuilder struct {
	b *Builder
	t *target
}

// AddTarget starts a new target of the given final size.
func (b *Builder) AddTarget(path string, fileSize int64) *TargetBuilder {
	t := &target{path: path, fileSize: fileSize}
	b.ix.targets = append(b.ix.targets, t)
	return &TargetBuilder{b: b, t: t}
}

// AddSourcePart appends a part reconstructed from sourceIndex at sourceOffset.
// expected is the content the part must end up containing once installed;
// maxSourceEnd bounds how far Reconstruct may ever read (defaults to
// sourceOffset+len(expected) if 0 is passed).
func (tb *TargetBuilder) AddSourcePart(sourceIndex int, sourceOffset int64, expected []byte, maxSourceEnd int64) *TargetBuilder {
	if maxSourceEnd == 0 {
		maxSourceEnd = sourceOffset + int64(len(expected))
	}
	p := newPart(expected)
	p.targetIndex = len(tb.b.ix.targets) - 1
	p.partIndex = len(tb.t.parts)
	p.targetOffset = tb.offsetOfNextPart()
	p.targetSize = int64(len(expected))
	p.fromSource = true
	p.sourceIndex = sourceIndex
	p.sourceOffset = sourceOffset
	p.maxSourceEnd = maxSourceEnd
	tb.t.parts = append(tb.t.parts, p)
	return tb
}

// AddEmbeddedPart appends a part reconstructed purely from index-embedded
// data (IsFromSourceFile == false).
func (tb *TargetBuilder) AddEmbeddedPart(content []byte) *TargetBuilder {
	p := newPart(content)
	p.targetIndex = len(tb.b.ix.targets) - 1
	p.partIndex = len(tb.t.parts)
	p.targetOffset = tb.offsetOfNextPart()
	p.targetSize = int64(len(content))
	p.fromSource = false
	tb.t.parts = append(tb.t.parts, p)
	return tb
}

func (tb *TargetBuilder) offsetOfNextPart() int64 {
	var off int64
	for _, p := range tb.t.parts {
		end := p.targetOffset + p.targetSize
		if end > off {
			off = end
		}
	}
	return off
}

// Done returns the Builder the TargetBuilder came from, for chaining.
func (tb *TargetBuilder) Done() *Builder { return tb.b }

// Build finalizes and returns the assembled Index.
func (b *Builder) Build() *Index { return b.ix }
