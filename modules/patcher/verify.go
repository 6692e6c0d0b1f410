package patcher

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/NebulousLabs/errors"

	"github.com/patchkit-go/patchkit/build"
	"github.com/patchkit-go/patchkit/index"
)

// Callbacks is the capability set of optional event hooks the installer
// emits: each field may be left nil.
type Callbacks struct {
	OnVerifyProgress  func(targetIndex int, bytesDone, bytesTotal int64)
	OnInstallProgress func(sourceIndex int, bytesDone, bytesTotal int64)
	OnCorruptionFound func(part index.Part, result index.VerifyResult)
}

// Verifier checks every attached target against the index: for each
// target with an attached readable stream, it runs the index's per-part
// Verify operation and folds the result into the Ledger.
type Verifier struct {
	ix       index.Index
	registry *Registry
	ledger   *Ledger
	cb       Callbacks
}

// NewVerifier builds a Verifier over ix, reading streams from registry and
// recording findings in ledger.
func NewVerifier(ix index.Index, registry *Registry, ledger *Ledger, cb Callbacks) *Verifier {
	return &Verifier{ix: ix, registry: registry, ledger: ledger, cb: cb}
}

// VerifyFiles runs up to concurrency per-target verification tasks in
// parallel A zero or negative concurrency falls back to
// DefaultVerifyConcurrency.
func (v *Verifier) VerifyFiles(concurrency int, cancellation <-chan struct{}) error {
	if concurrency <= 0 {
		concurrency = DefaultVerifyConcurrency
	}

	var totalExpected int64
	for i := 0; i < v.ix.NumTargets(); i++ {
		totalExpected += v.ix.Target(i).FileSize()
	}

	var progress atomic.Int64
	var currentTarget atomic.Int64

	// Progress reporting races a ticker against the worker tasks: the
	// timer is a distinct goroutine rather than a pseudo-task in the same
	// list, so it can never be confused with real work when removing
	// completed entries.
	done := make(chan struct{})
	var tickerWG sync.WaitGroup
	tickerWG.Add(1)
	go func() {
		defer tickerWG.Done()
		ticker := time.NewTicker(ProgressReportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if v.cb.OnVerifyProgress != nil {
					v.cb.OnVerifyProgress(int(currentTarget.Load()), progress.Load(), totalExpected)
				}
			case <-done:
				return
			}
		}
	}()
	defer func() {
		close(done)
		tickerWG.Wait()
	}()

	ctx, cancel := stopChanContext(cancellation)
	defer cancel()

	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < v.ix.NumTargets(); i++ {
		i := i
		stream := v.registry.Stream(i)
		if stream == nil {
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			currentTarget.Store(int64(i))
			return v.registry.WithReadLock(i, func() error {
				return v.verifyTarget(i, stream, &progress, cancellation)
			})
		})
	}

	err := g.Wait()
	if v.cb.OnVerifyProgress != nil {
		v.cb.OnVerifyProgress(int(currentTarget.Load()), progress.Load(), totalExpected)
	}
	if err != nil {
		return err
	}
	select {
	case <-cancellation:
		return ErrCancelled
	default:
		return nil
	}
}

// verifyTarget checks ti's size and every part in order
func (v *Verifier) verifyTarget(ti int, stream index.Stream, progress *atomic.Int64, cancellation <-chan struct{}) error {
	t := v.ix.Target(ti)

	length, err := stream.Len()
	if err != nil {
		return errors.Extend(ErrTransientIO, err)
	}
	if length != t.FileSize() {
		v.ledger.MarkSizeMismatch(ti)
	}

	for j := 0; j < t.NumParts(); j++ {
		select {
		case <-cancellation:
			return ErrCancelled
		default:
		}

		part := t.Part(j)
		result := part.Verify(stream)
		switch result {
		case index.Pass:
		case index.FailUnverifiable:
			build.Critical("index could not verify a part it promised to: target", ti, "part", j)
			return errors.Extend(ErrInvariantViolated, errors.New("index could not verify a part it promised to"))
		default:
			v.ledger.MarkPartMissing(part)
			if v.cb.OnCorruptionFound != nil {
				v.cb.OnCorruptionFound(part, result)
			}
		}
		progress.Add(part.TargetSize())
	}
	return nil
}
