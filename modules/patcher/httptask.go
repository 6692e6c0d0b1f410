package patcher

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/fastrand"
	"github.com/samber/lo"

	"github.com/patchkit-go/patchkit/index"
)

// byteRange is a half-open [start, end) span of a source patch.
type byteRange struct {
	start, end int64
}

// httpInstallTask installs one source patch over HTTP: it coalesces the
// still-missing parts into ranged GETs,
// consumes the multipart/byteranges response, and reconstructs each part
// as its bytes arrive.
type httpInstallTask struct {
	ix       index.Index
	registry *Registry
	ledger   *Ledger
	client   *http.Client
	metrics  *Metrics

	sourceIndex int
	sourceURL   string
	sid         string

	pending []index.Part

	progressValue atomic.Int64
	progressMax   int64

	mr        *multipartRangeReader
	cancelReq context.CancelFunc
}

// newHTTPInstallTask builds a task over parts, all belonging to sourceIndex.
// Construction sorts parts ascending by sourceOffset and computes
// ProgressMax. metrics may be nil, in which case attempt outcomes are
// simply not recorded.
func newHTTPInstallTask(ix index.Index, registry *Registry, ledger *Ledger, sourceIndex int, sourceURL, sid string, client *http.Client, metrics *Metrics, parts []index.Part) *httpInstallTask {
	sorted := make([]index.Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SourceOffset() < sorted[j].SourceOffset() })

	var max int64
	for _, p := range sorted {
		max += p.TargetSize()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &httpInstallTask{
		ix:          ix,
		registry:    registry,
		ledger:      ledger,
		client:      client,
		metrics:     metrics,
		sourceIndex: sourceIndex,
		sourceURL:   sourceURL,
		sid:         sid,
		pending:     sorted,
		progressMax: max,
	}
}

func (t *httpInstallTask) SourceIndex() int     { return t.sourceIndex }
func (t *httpInstallTask) ProgressValue() int64 { return t.progressValue.Load() }
func (t *httpInstallTask) ProgressMax() int64   { return t.progressMax }

// Repair runs attempts until every pending part is written, giving up with
// ErrExhaustedRetries once maxOuterAttempts attempts in a row have failed
// without landing a part.
func (t *httpInstallTask) Repair(cancellation <-chan struct{}) error {
	defer t.disposeResponse()

	failedCount := 0
	var lastErr error
	for failedCount < maxOuterAttempts {
		if len(t.pending) == 0 {
			t.metrics.IncRepairAttempt("success")
			return nil
		}
		select {
		case <-cancellation:
			t.metrics.IncRepairAttempt("cancelled")
			return ErrCancelled
		default:
		}

		if failedCount >= backoffFreeAttempts {
			if err := sleepBackoff(failedCount, cancellation); err != nil {
				t.metrics.IncRepairAttempt("cancelled")
				return err
			}
		}

		stream, err := t.getNextStream(cancellation)
		if err != nil {
			if errors.Contains(err, ErrCancelled) {
				t.metrics.IncRepairAttempt("cancelled")
				return err
			}
			lastErr = err
			failedCount++
			t.metrics.IncRepairAttempt("transient_error")
			continue
		}

		prevPending := len(t.pending)
		drainErr := t.drain(stream, cancellation)
		if len(t.pending) < prevPending {
			// drain wrote at least one part before failing (or exhausted
			// t.pending cleanly): real progress resets the failure streak so
			// a source that is merely slow, not broken, never climbs toward
			// ExhaustedRetries on the strength of partial attempts alone.
			failedCount = 0
		}
		if drainErr != nil {
			if errors.Contains(drainErr, ErrCancelled) {
				t.metrics.IncRepairAttempt("cancelled")
				return drainErr
			}
			lastErr = drainErr
			if len(t.pending) == prevPending {
				failedCount++
			}
			t.metrics.IncRepairAttempt("transient_error")
			continue
		}
		if len(t.pending) == prevPending {
			// A range part that covered no pending part counts as a failed
			// attempt, so wrong ranges from the server cannot loop forever.
			lastErr = errors.New("range response part covered no pending part")
			failedCount++
		}
		t.metrics.IncRepairAttempt("attempt_success")
	}

	if len(t.pending) == 0 {
		t.metrics.IncRepairAttempt("success")
		return nil
	}
	t.metrics.IncRepairAttempt("exhausted")
	return errors.Extend(ErrExhaustedRetries, lastErr)
}

// sleepBackoff sleeps 1000*2^min(backoffCapShift, failedCount-backoffFreeAttempts)
// ms, plus up to one baseBackoff unit of random jitter so that many tasks
// failing against the same source at once don't retry in lockstep.
func sleepBackoff(failedCount int, cancellation <-chan struct{}) error {
	shift := failedCount - backoffFreeAttempts
	if shift > backoffCapShift {
		shift = backoffCapShift
	}
	d := baseBackoff*time.Duration(int64(1)<<uint(shift)) + time.Duration(fastrand.Intn(int(baseBackoff)))
	select {
	case <-time.After(d):
		return nil
	case <-cancellation:
		return ErrCancelled
	}
}

// drain reconstructs every pending part whose sourceOffset is covered by
// stream's currently-available bytes, in ascending order, reading and
// discarding any source bytes that lie between one part and the next.
func (t *httpInstallTask) drain(stream *forwardSeekStream, cancellation <-chan struct{}) error {
	pos := stream.start
	for len(t.pending) > 0 && t.pending[0].SourceOffset() < stream.availableToOffset() {
		select {
		case <-cancellation:
			return ErrCancelled
		default:
		}
		p := t.pending[0]
		if skip := p.SourceOffset() - pos; skip > 0 {
			n, err := io.CopyN(io.Discard, stream, skip)
			pos += n
			if err != nil {
				return errors.Extend(ErrTransientIO, err)
			}
		}
		buf := globalBufferPool.get(int(p.TargetSize()))
		counted := &io.LimitedReader{R: stream, N: math.MaxInt64}
		err := p.Reconstruct(counted, buf)
		pos += math.MaxInt64 - counted.N
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

// getNextStream returns the next part of the currently-open multipart
// response, opening a fresh ranged request if none is open or the current
// one is exhausted
func (t *httpInstallTask) getNextStream(cancellation <-chan struct{}) (*forwardSeekStream, error) {
	for {
		if t.mr != nil {
			s, err := t.mr.nextPart(cancellation)
			if err != nil {
				t.disposeResponse()
				return nil, err
			}
			if s != nil {
				return s, nil
			}
			t.disposeResponse()
		}

		if len(t.pending) == 0 {
			return nil, nil
		}

		resp, cancel, err := t.issueRequest(cancellation)
		if err != nil {
			return nil, err
		}
		mr, err := newMultipartRangeReader(resp)
		if err != nil {
			resp.Body.Close()
			cancel()
			return nil, err
		}
		t.mr = mr
		t.cancelReq = cancel

		s, err := t.mr.nextPart(cancellation)
		if err != nil {
			t.disposeResponse()
			return nil, err
		}
		if s == nil {
			t.disposeResponse()
			return nil, errors.Extend(ErrUnexpectedEndOfStream, errors.New("fresh range response carried no parts"))
		}
		return s, nil
	}
}

// issueRequest coalesces t.pending into a ranged GET and issues it.
func (t *httpInstallTask) issueRequest(cancellation <-chan struct{}) (*http.Response, context.CancelFunc, error) {
	ranges := t.buildRanges()
	if len(ranges) == 0 {
		return nil, nil, errors.New("no pending ranges to request")
	}
	specs := make([]string, len(ranges))
	for i, r := range ranges {
		specs[i] = fmt.Sprintf("%d-%d", r.start, r.end-1)
	}

	ctx, cancel := stopChanContext(cancellation)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.sourceURL, nil)
	if err != nil {
		cancel()
		return nil, nil, errors.Extend(ErrTransientIO, err)
	}
	req.Header.Set("Range", "bytes="+strings.Join(specs, ", "))
	req.Header.Set("User-Agent", patcherUserAgent)
	req.Header.Set("Connection", "Keep-Alive")
	if t.sid != "" {
		req.Header.Set(sidHeader, t.sid)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, errors.Extend(ErrTransientIO, err)
	}
	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		cancel()
		return nil, nil, errors.Extend(ErrTransientIO, errors.New("expected 206 Partial Content, got "+resp.Status))
	}
	return resp, cancel, nil
}

// buildRanges computes the coalesced, clamped byte ranges covering every
// pending part's remaining source bytes
func (t *httpInstallTask) buildRanges() []byteRange {
	raw := lo.Map(t.pending, func(p index.Part, _ int) byteRange {
		end := t.ix.GetSourceLastPtr(t.sourceIndex)
		if p.MaxSourceEnd() < end {
			end = p.MaxSourceEnd()
		}
		return byteRange{p.SourceOffset(), end}
	})
	sort.Slice(raw, func(i, j int) bool { return raw[i].start < raw[j].start })

	coalesced := make([]byteRange, 0, len(raw))
	for _, r := range raw {
		if n := len(coalesced); n > 0 && r.start-coalesced[n-1].end < coalesceGap {
			if r.end > coalesced[n-1].end {
				coalesced[n-1].end = r.end
			}
			continue
		}
		coalesced = append(coalesced, r)
	}
	if len(coalesced) > maxRangesPerRequest {
		coalesced = coalesced[:maxRangesPerRequest]
	}
	return coalesced
}

func (t *httpInstallTask) disposeResponse() {
	if t.mr != nil {
		t.mr.Close()
		t.mr = nil
	}
	if t.cancelReq != nil {
		t.cancelReq()
		t.cancelReq = nil
	}
}
