// Package index defines the read-only contract the installer core consumes
// from a precomputed patch index. Building an index is out of scope for
// this package; it only describes the shape a builder must produce and
// the installer must read.
package index

import "io"

// VerifyResult is the outcome of checking one Part's on-disk bytes against
// the index.
type VerifyResult int

const (
	// Pass means the target's current bytes already match the part.
	Pass VerifyResult = iota
	// FailNotEnoughData means the target stream does not have enough bytes
	// at the part's offset to compare (short file, or read error).
	FailNotEnoughData
	// FailBadData means enough bytes were present but their content does
	// not match what the index expects.
	FailBadData
	// FailUnverifiable means the index did not carry enough information to
	// verify the part at all. Returning this is always a builder bug; the
	// installer treats it as fatal (InvariantViolated).
	FailUnverifiable
)

// String implements fmt.Stringer for log and error messages.
func (r VerifyResult) String() string {
	switch r {
	case Pass:
		return "pass"
	case FailNotEnoughData:
		return "fail-not-enough-data"
	case FailBadData:
		return "fail-bad-data"
	case FailUnverifiable:
		return "fail-unverifiable"
	default:
		return "unknown-verify-result"
	}
}

// ReadStream is a read-only, seekable, random-access byte source: the
// minimum a caller must provide to Registry.AttachForRead.
type ReadStream interface {
	io.ReaderAt
	io.Seeker
	io.Closer
}

// Stream is the random-access byte store backing one target file. It is
// readable and writable; streams obtained through AttachForRead reject
// writes with ErrReadOnlyStream rather than silently discarding them.
type Stream interface {
	io.ReaderAt
	io.WriterAt
	io.Seeker
	io.Closer
	// Truncate resizes the underlying file, extending with zeros or
	// discarding trailing bytes as needed.
	Truncate(size int64) error
	// Sync flushes any OS buffers to stable storage.
	Sync() error
	// Len reports the current length of the stream.
	Len() (int64, error)
}

// SourceByteStream is a forward-seek-only source of bytes that a Part reads
// from during Reconstruct. Both the HTTP multipart reader and a locally
// opened patch file satisfy it.
type SourceByteStream interface {
	io.Reader
}

// Part is one contiguous byte region of a Target. Verification and
// reconstruction are opaque operations invoked through it; the installer
// never interprets the bytes itself.
type Part interface {
	// TargetIndex is the index of the Target this part belongs to.
	TargetIndex() int
	// PartIndex is this part's position within its Target's part list.
	PartIndex() int
	// TargetOffset is the byte offset within the target file this part
	// occupies.
	TargetOffset() int64
	// TargetSize is the number of bytes this part writes into the target.
	TargetSize() int64
	// IsFromSourceFile reports whether Reconstruct must be used (true) or
	// ReconstructWithoutSourceData (false).
	IsFromSourceFile() bool
	// SourceIndex identifies which source patch Reconstruct reads from.
	// Only meaningful when IsFromSourceFile is true.
	SourceIndex() int
	// SourceOffset is the byte offset within the source patch this part
	// begins reading from. Only meaningful when IsFromSourceFile is true.
	SourceOffset() int64
	// MaxSourceEnd is the exclusive upper bound on how many source bytes
	// this part may ever read, regardless of GetSourceLastPtr. Only
	// meaningful when IsFromSourceFile is true.
	MaxSourceEnd() int64

	// Verify checks the part's current bytes in target against the index.
	Verify(target Stream) VerifyResult
	// Reconstruct reads exactly the bytes it needs from source at the
	// stream's current position and writes TargetSize bytes into out.
	Reconstruct(source SourceByteStream, out []byte) error
	// ReconstructWithoutSourceData synthesizes TargetSize bytes into out
	// using only index-embedded data. Only called when IsFromSourceFile is
	// false.
	ReconstructWithoutSourceData(out []byte) error
}

// Target is one file the installer must repair or construct.
type Target interface {
	// Path is the target's path, relative to the local install root.
	Path() string
	// FileSize is the target's final, fully-installed size.
	FileSize() int64
	// NumParts is the number of parts composing this target.
	NumParts() int
	// Part returns the part at position i, 0 <= i < NumParts().
	Part(i int) Part
}

// Index is the precomputed description of every target file, its parts, and
// the source patches those parts may be reconstructed from. The installer
// borrows an Index for its lifetime; it never mutates or owns one.
type Index interface {
	// NumTargets is the number of targets described by this index.
	NumTargets() int
	// Target returns the target at position i, 0 <= i < NumTargets().
	Target(i int) Target
	// NumSourcePatches is the number of source patches parts may reference.
	NumSourcePatches() int
	// GetSourceLastPtr is the exclusive upper bound on byte offsets readable
	// from the given source patch.
	GetSourceLastPtr(sourceIndex int) int64
	// VersionName is the version this index installs, written into the
	// version sidecar files after a successful install.
	VersionName() string
	// VersionFileVer is the path (relative to the local root) of the
	// primary version sidecar file.
	VersionFileVer() string
	// VersionFileBck is the path (relative to the local root) of the
	// backup version sidecar file.
	VersionFileBck() string
}
