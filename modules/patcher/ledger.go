package patcher

import (
	"sync"

	"github.com/patchkit-go/patchkit/index"
)

// partRef identifies one (target, part) pair.
type partRef struct {
	targetIndex int
	partIndex   int
}

// Ledger is the missing-parts ledger: three indexed sets tracking which
// parts are missing per target, per source-patch, and which targets have
// the wrong on-disk size. Every mutation happens under a single mutex;
// missingByTarget and missingByPatch are kept coherent by only ever
// inserting into both maps together (see markPartMissing).
type Ledger struct {
	mu sync.Mutex

	// missingByTarget[targetIndex][partIndex] == true means that part is
	// currently missing.
	missingByTarget map[int]map[int]bool
	// missingByPatch[sourceIndex][partRef] == true means that part is
	// missing and reconstructible from sourceIndex.
	missingByPatch map[int]map[partRef]bool
	// sizeMismatch[targetIndex] == true means the on-disk length did not
	// match the index's expected size the last time VerifyFiles ran.
	sizeMismatch map[int]bool
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		missingByTarget: make(map[int]map[int]bool),
		missingByPatch:  make(map[int]map[partRef]bool),
		sizeMismatch:    make(map[int]bool),
	}
}

// markPartMissing inserts part into MissingPartIndicesPerTargetFile, and
// additionally into MissingPartIndicesPerPatch when the part is source-
// backed. Called with mu held.
func (l *Ledger) markPartMissing(p index.Part) {
	ti := p.TargetIndex()
	if l.missingByTarget[ti] == nil {
		l.missingByTarget[ti] = make(map[int]bool)
	}
	l.missingByTarget[ti][p.PartIndex()] = true

	if p.IsFromSourceFile() {
		si := p.SourceIndex()
		if l.missingByPatch[si] == nil {
			l.missingByPatch[si] = make(map[partRef]bool)
		}
		l.missingByPatch[si][partRef{ti, p.PartIndex()}] = true
	}
}

// MarkFileAsMissing adds every part of t (whose index is targetIndex) to the
// ledger
func (l *Ledger) MarkFileAsMissing(t index.Target, targetIndex int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < t.NumParts(); i++ {
		l.markPartMissing(t.Part(i))
	}
}

// MarkPartMissing records a single part verification failure.
func (l *Ledger) MarkPartMissing(p index.Part) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markPartMissing(p)
}

// MarkSizeMismatch records that targetIndex's on-disk length did not match
// the index's expected size. Only ever called from VerifyFiles, and only
// for targets with an attached readable stream.
func (l *Ledger) MarkSizeMismatch(targetIndex int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sizeMismatch[targetIndex] = true
}

// clearPart removes part from both missing sets. Called once an install
// task successfully writes it, after which the part leaves the task's
// pending list too.
func (l *Ledger) clearPart(ti, pi int, fromSource bool, si int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m := l.missingByTarget[ti]; m != nil {
		delete(m, pi)
		if len(m) == 0 {
			delete(l.missingByTarget, ti)
		}
	}
	if fromSource {
		if m := l.missingByPatch[si]; m != nil {
			delete(m, partRef{ti, pi})
			if len(m) == 0 {
				delete(l.missingByPatch, si)
			}
		}
	}
}

// MissingPartsForPatch returns a snapshot of every (targetIndex, partIndex)
// pair currently missing and reconstructible from sourceIndex, in no
// particular order.
func (l *Ledger) MissingPartsForPatch(sourceIndex int) []partRef {
	l.mu.Lock()
	defer l.mu.Unlock()
	refs := make([]partRef, 0, len(l.missingByPatch[sourceIndex]))
	for r := range l.missingByPatch[sourceIndex] {
		refs = append(refs, r)
	}
	return refs
}

// MissingNonPatchParts returns every currently-missing part across every
// target that is not reconstructible from a source patch, grouped by
// target, used by the Non-Patch Reconstructor.
func (l *Ledger) MissingNonPatchParts(ix index.Index) map[int][]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int][]int)
	for ti, parts := range l.missingByTarget {
		t := ix.Target(ti)
		for pi := range parts {
			if !t.Part(pi).IsFromSourceFile() {
				out[ti] = append(out[ti], pi)
			}
		}
	}
	return out
}

// IsEmpty reports whether the ledger currently tracks zero missing parts:
// a fully installed tree clears it out entirely.
func (l *Ledger) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.missingByTarget) == 0
}

// SizeMismatchTargets returns a snapshot of every target index currently
// flagged with a size mismatch.
func (l *Ledger) SizeMismatchTargets() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, 0, len(l.sizeMismatch))
	for ti := range l.sizeMismatch {
		out = append(out, ti)
	}
	return out
}

// TargetsNeedingWrite returns every target index that either has a missing
// part or a recorded size mismatch, the set AttachMissingForWrite must
// reopen for writing.
func (l *Ledger) TargetsNeedingWrite() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := make(map[int]bool)
	for ti := range l.missingByTarget {
		set[ti] = true
	}
	for ti := range l.sizeMismatch {
		set[ti] = true
	}
	out := make([]int, 0, len(set))
	for ti := range set {
		out = append(out, ti)
	}
	return out
}
