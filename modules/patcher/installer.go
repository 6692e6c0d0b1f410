package patcher

import (
	"net/http"
	"path/filepath"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/threadgroup"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/patchkit-go/patchkit/index"
	"github.com/patchkit-go/patchkit/persist"
)

const logFile = "patcher.log"

// Patcher ties together the Target Stream Registry, the Missing-Parts
// Ledger, the Verifier, and the Install Scheduler into a single entry
// point: Index → Verifier → Ledger → caller-queued Install Tasks →
// Scheduler → Non-Patch Reconstructor.
//
// Disposing the Patcher disposes every target stream it opened.
type Patcher struct {
	ix        index.Index
	rootPath  string
	log       *persist.Logger
	tg        threadgroup.ThreadGroup
	registry  *Registry
	ledger    *Ledger
	verifier  *Verifier
	scheduler *Scheduler
	cb        Callbacks

	metricsReg *prometheus.Registry
	metrics    *Metrics
}

// New returns a Patcher ready to verify and install ix into rootPath.
// persistDir holds the patcher's own log file, separate from rootPath,
// which holds only the target files themselves.
func New(ix index.Index, rootPath, persistDir string, cb Callbacks) (_ *Patcher, err error) {
	p := &Patcher{
		ix:       ix,
		rootPath: rootPath,
		ledger:   NewLedger(),
		cb:       cb,
	}

	defer func() {
		if err != nil {
			startupErr := errors.Extend(err, errors.New("error during patcher startup"))
			err = errors.Compose(startupErr, p.tg.Stop())
		}
	}()

	if err = (productionDependencies{}).MkdirAll(persistDir, 0700); err != nil {
		return nil, errors.Extend(err, errors.New("error while creating the persist directory for the patcher"))
	}

	p.log, err = persist.NewLogger(filepath.Join(persistDir, logFile))
	if err != nil {
		return nil, errors.Extend(err, errors.New("error while creating the logger for the patcher"))
	}
	p.tg.AfterStop(func() error {
		return p.log.Close()
	})

	p.metricsReg = prometheus.NewRegistry()
	p.metrics = NewMetrics(p.metricsReg)
	p.cb = p.metrics.WrapCallbacks(cb)

	p.registry = NewRegistry(ix, p.ledger, p.log)
	p.verifier = NewVerifier(ix, p.registry, p.ledger, p.cb)
	p.scheduler = NewScheduler(ix, p.registry, p.ledger, p.cb, p.metrics)

	return p, nil
}

// Close cleanly shuts down the patcher, closing all target streams and the
// log file, blocking until shutdown has completed.
func (p *Patcher) Close() error {
	p.registry.CloseAll()
	return errors.Extend(p.tg.Stop(), errors.New("error while stopping patcher"))
}

// AttachAllForRead attaches every existing target file for reading and
// marks absent targets as entirely missing
func (p *Patcher) AttachAllForRead() error {
	if err := p.tg.Add(); err != nil {
		return ErrCancelled
	}
	defer p.tg.Done()
	return p.registry.AttachAllForRead(p.rootPath)
}

// AttachMissingForWrite reopens for writing every target with a missing
// part or a size mismatch
func (p *Patcher) AttachMissingForWrite() error {
	if err := p.tg.Add(); err != nil {
		return ErrCancelled
	}
	defer p.tg.Done()
	return p.registry.AttachMissingForWrite(p.rootPath)
}

// VerifyFiles runs the Verifier across every attached target.
func (p *Patcher) VerifyFiles(concurrency int, cancellation <-chan struct{}) error {
	if err := p.tg.Add(); err != nil {
		return ErrCancelled
	}
	defer p.tg.Done()

	stop := mergeStop(cancellation, p.tg.StopChan())
	return p.verifier.VerifyFiles(concurrency, stop)
}

// QueueHTTPInstall enqueues install tasks fetching sourceIndex's missing
// parts over HTTP.
func (p *Patcher) QueueHTTPInstall(sourceIndex int, sourceURL, sid string, client *http.Client, splitBy int) {
	p.scheduler.QueueHTTPInstall(sourceIndex, sourceURL, sid, client, splitBy)
}

// QueueStreamInstall enqueues install tasks reconstructing sourceIndex's
// missing parts from a pre-opened local stream.
func (p *Patcher) QueueStreamInstall(sourceIndex int, source index.SourceByteStream, splitBy int) {
	p.scheduler.QueueStreamInstall(sourceIndex, source, splitBy)
}

// Install runs every queued task with bounded concurrency and finally
// invokes the Non-Patch Reconstructor
func (p *Patcher) Install(concurrency int, cancellation <-chan struct{}) error {
	if err := p.tg.Add(); err != nil {
		return ErrCancelled
	}
	defer p.tg.Done()

	stop := mergeStop(cancellation, p.tg.StopChan())
	return p.scheduler.Install(concurrency, stop)
}

// WriteVersionFiles writes the installed version's sidecar files. Callers
// run this once Install has completed successfully.
func (p *Patcher) WriteVersionFiles() error {
	return WriteVersionFiles(p.ix, p.rootPath)
}

// Ledger exposes the patcher's Missing-Parts Ledger, primarily for tests
// and for callers that want to inspect outstanding work between phases.
func (p *Patcher) Ledger() *Ledger { return p.ledger }

// MetricsGatherer exposes the Prometheus registry this Patcher's counters
// are registered on, for callers that want to serve it over
// promhttp.HandlerFor or fold it into a larger registry.
func (p *Patcher) MetricsGatherer() prometheus.Gatherer { return p.metricsReg }

// mergeStop returns a channel that closes when either a or b closes.
func mergeStop(a, b <-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		select {
		case <-a:
		case <-b:
		}
	}()
	return out
}
