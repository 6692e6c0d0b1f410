package patcher

import (
	"sort"

	"github.com/patchkit-go/patchkit/index"
)

// NonPatchReconstructor rewrites every currently-missing part whose data
// is synthesized from the index alone, with no source fetch involved.
type NonPatchReconstructor struct {
	ix       index.Index
	registry *Registry
	ledger   *Ledger
}

// NewNonPatchReconstructor builds a NonPatchReconstructor over ix.
func NewNonPatchReconstructor(ix index.Index, registry *Registry, ledger *Ledger) *NonPatchReconstructor {
	return &NonPatchReconstructor{ix: ix, registry: registry, ledger: ledger}
}

// RepairNonPatchData synchronously iterates targets; for each missing part
// with !isFromSourceFile, it reconstructs and writes it through the
// Registry, checking cancellation between parts
func (n *NonPatchReconstructor) RepairNonPatchData(cancellation <-chan struct{}) error {
	missing := n.ledger.MissingNonPatchParts(n.ix)

	targets := make([]int, 0, len(missing))
	for ti := range missing {
		targets = append(targets, ti)
	}
	sort.Ints(targets)

	for _, ti := range targets {
		parts := missing[ti]
		sort.Ints(parts)
		t := n.ix.Target(ti)
		for _, pi := range parts {
			select {
			case <-cancellation:
				return ErrCancelled
			default:
			}

			p := t.Part(pi)
			buf := globalBufferPool.get(int(p.TargetSize()))
			err := p.ReconstructWithoutSourceData(buf)
			if err != nil {
				globalBufferPool.put(buf)
				return err
			}
			err = n.registry.WriteToTarget(p.TargetIndex(), p.TargetOffset(), buf)
			globalBufferPool.put(buf)
			if err != nil {
				return err
			}
			n.ledger.clearPart(ti, pi, false, 0)
		}
	}
	return nil
}
