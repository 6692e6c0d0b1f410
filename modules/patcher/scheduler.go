package patcher

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/patchkit-go/patchkit/index"
)

// Scheduler queues install tasks, runs them with bounded concurrency,
// aggregates progress, and finally invokes the Non-Patch Reconstructor.
type Scheduler struct {
	ix       index.Index
	registry *Registry
	ledger   *Ledger
	cb       Callbacks
	metrics  *Metrics

	nonPatch *NonPatchReconstructor

	mu    deadlock.Mutex
	tasks []installTask
}

// NewScheduler builds a Scheduler over ix. metrics may be nil.
func NewScheduler(ix index.Index, registry *Registry, ledger *Ledger, cb Callbacks, metrics *Metrics) *Scheduler {
	return &Scheduler{
		ix:       ix,
		registry: registry,
		ledger:   ledger,
		cb:       cb,
		metrics:  metrics,
		nonPatch: NewNonPatchReconstructor(ix, registry, ledger),
	}
}

func (s *Scheduler) partsFor(refs []partRef) []index.Part {
	parts := make([]index.Part, len(refs))
	for i, r := range refs {
		parts[i] = s.ix.Target(r.targetIndex).Part(r.partIndex)
	}
	return parts
}

// chunkParts divides parts into at most splitBy roughly-equal groups of
// ceil(len(parts)/splitBy) parts each (the last may be smaller), skipping any
// that end up empty. splitBy <= 0 uses DefaultSplitBy.
func chunkParts(parts []index.Part, splitBy int) [][]index.Part {
	if len(parts) == 0 {
		return nil
	}
	if splitBy <= 0 {
		splitBy = DefaultSplitBy
	}
	size := (len(parts) + splitBy - 1) / splitBy
	if size < 1 {
		size = 1
	}
	chunks := lo.Chunk(parts, size)
	out := make([][]index.Part, 0, len(chunks))
	for _, c := range chunks {
		if len(c) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// QueueHTTPInstall enqueues one HTTP Install Task per chunk of the parts
// currently missing for sourceIndex, split splitBy ways. An empty sid gets
// a fresh one generated once per call, so every task this call queues still
// carries the same X-Patch-Unique-Id value even when the caller has none to
// supply.
func (s *Scheduler) QueueHTTPInstall(sourceIndex int, sourceURL, sid string, client *http.Client, splitBy int) {
	if sid == "" {
		sid = uuid.New().String()
	}
	parts := s.partsFor(s.ledger.MissingPartsForPatch(sourceIndex))
	for _, chunk := range chunkParts(parts, splitBy) {
		s.enqueue(newHTTPInstallTask(s.ix, s.registry, s.ledger, sourceIndex, sourceURL, sid, client, s.metrics, chunk))
	}
}

// QueueStreamInstall enqueues one Stream Install Task per chunk of the
// parts currently missing for sourceIndex, split splitBy ways. Passing
// splitBy > 1 only makes sense when source supports being read from
// multiple independent positions; a single forward-only source should be
// queued with splitBy == 1.
func (s *Scheduler) QueueStreamInstall(sourceIndex int, source index.SourceByteStream, splitBy int) {
	parts := s.partsFor(s.ledger.MissingPartsForPatch(sourceIndex))
	for _, chunk := range chunkParts(parts, splitBy) {
		s.enqueue(newStreamInstallTask(s.registry, s.ledger, sourceIndex, source, chunk))
	}
}

func (s *Scheduler) enqueue(t installTask) {
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
}

// Install runs every queued task with at most concurrency running at once,
// then invokes the Non-Patch Reconstructor
//
// Progress is read fresh from each task's own ProgressValue on every timer
// tick rather than accumulated separately: a requeued chunk's bytes are
// only ever counted once, by the one task object that owns them.
func (s *Scheduler) Install(concurrency int, cancellation <-chan struct{}) error {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	if len(tasks) == 0 {
		return s.nonPatch.RepairNonPatchData(cancellation)
	}
	if concurrency <= 0 {
		concurrency = DefaultSplitBy
	}

	var progressMax int64
	for _, t := range tasks {
		progressMax += t.ProgressMax()
	}

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
				s.reportProgress(tasks, progressMax)
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

	var installErr error
	for _, t := range tasks {
		t := t
		if err := sem.Acquire(gctx, 1); err != nil {
			installErr = ErrCancelled
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return t.Repair(gctx.Done())
		})
	}

	if err := g.Wait(); err != nil && installErr == nil {
		installErr = err
	}
	s.reportProgress(tasks, progressMax)
	if installErr != nil {
		return installErr
	}

	select {
	case <-cancellation:
		return ErrCancelled
	default:
	}

	return s.nonPatch.RepairNonPatchData(cancellation)
}

func (s *Scheduler) reportProgress(tasks []installTask, progressMax int64) {
	if s.cb.OnInstallProgress == nil {
		return
	}
	var done int64
	var currentSource int
	for _, t := range tasks {
		done += t.ProgressValue()
		currentSource = t.SourceIndex()
	}
	s.cb.OnInstallProgress(currentSource, done, progressMax)
}
