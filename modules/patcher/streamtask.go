package patcher

import (
	"sort"
	"sync/atomic"

	"github.com/NebulousLabs/errors"

	"github.com/patchkit-go/patchkit/index"
)

// streamInstallTask installs parts from a pre-opened local stream: same
// public contract as the HTTP task, but its source is a single
// pre-opened forward-readable local stream rather than a sequence of
// ranged HTTP responses. Because the source never needs re-fetching, parts
// are simply read off in order; there is no backoff/retry loop to run,
// since a local read failure cannot be recovered by asking again.
type streamInstallTask struct {
	source index.SourceByteStream

	sourceIndex int
	registry    *Registry
	ledger      *Ledger

	pending []index.Part

	progressValue atomic.Int64
	progressMax   int64
}

// newStreamInstallTask builds a task over parts, all belonging to
// sourceIndex, reading from source. Parts are sorted ascending by
// sourceOffset at construction, matching the order they must be read off
// the forward-only stream.
func newStreamInstallTask(registry *Registry, ledger *Ledger, sourceIndex int, source index.SourceByteStream, parts []index.Part) *streamInstallTask {
	sorted := make([]index.Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SourceOffset() < sorted[j].SourceOffset() })

	var max int64
	for _, p := range sorted {
		max += p.TargetSize()
	}
	return &streamInstallTask{
		source:      source,
		sourceIndex: sourceIndex,
		registry:    registry,
		ledger:      ledger,
		pending:     sorted,
		progressMax: max,
	}
}

func (t *streamInstallTask) SourceIndex() int     { return t.sourceIndex }
func (t *streamInstallTask) ProgressValue() int64 { return t.progressValue.Load() }
func (t *streamInstallTask) ProgressMax() int64   { return t.progressMax }

// Repair reconstructs every pending part in ascending sourceOffset order,
// checking cancellation between parts
func (t *streamInstallTask) Repair(cancellation <-chan struct{}) error {
	for len(t.pending) > 0 {
		select {
		case <-cancellation:
			return ErrCancelled
		default:
		}

		p := t.pending[0]
		buf := globalBufferPool.get(int(p.TargetSize()))
		err := p.Reconstruct(t.source, buf)
		if err != nil {
			globalBufferPool.put(buf)
			return errors.Extend(ErrTransientIO, err)
		}
		err = t.registry.WriteToTarget(p.TargetIndex(), p.TargetOffset(), buf)
		globalBufferPool.put(buf)
		if err != nil {
			return err
		}
		t.progressValue.Add(p.TargetSize())
		t.pending = t.pending[1:]
		if t.ledger != nil {
			t.ledger.clearPart(p.TargetIndex(), p.PartIndex(), p.IsFromSourceFile(), p.SourceIndex())
		}
	}
	return nil
}
