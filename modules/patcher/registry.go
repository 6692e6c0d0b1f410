package patcher

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/NebulousLabs/errors"

	"github.com/patchkit-go/patchkit/build"
	"github.com/patchkit-go/patchkit/index"
	"github.com/patchkit-go/patchkit/lock"
)

// maxLockHoldTime bounds how long a single target write may hold its
// per-target lock before lock.Lock force-releases it and logs a warning.
// Large parts over a slow disk can legitimately take a while, so this is
// generous rather than tight.
const maxLockHoldTime = 5 * time.Minute

// osFileStream adapts *os.File to index.Stream.
type osFileStream struct {
	*os.File
}

func (s osFileStream) Len() (int64, error) {
	fi, err := s.File.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// readOnlyStream wraps an index.ReadStream so it also satisfies index.Stream,
// rejecting writes with ErrReadOnlyStream instead of silently discarding
// them.
type readOnlyStream struct {
	index.ReadStream
}

func (readOnlyStream) WriteAt(p []byte, off int64) (int, error) {
	return 0, ErrReadOnlyStream
}
func (readOnlyStream) Truncate(size int64) error { return ErrReadOnlyStream }
func (readOnlyStream) Sync() error               { return nil }
func (s readOnlyStream) Len() (int64, error) {
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	_, err = s.Seek(cur, io.SeekStart)
	return end, err
}

// targetEntry pairs one target's stream with the lock guarding writes to it.
// The lock is allocated alongside the stream and lives exactly as long as
// the Registry keeps the entry, satisfying the design note that "the mutex
// must outlive any handle holding it".
type targetEntry struct {
	stream index.Stream
	lock   *lock.Lock
}

// Registry owns one Stream per target file plus the per-target lock
// serializing writes to it.
type Registry struct {
	ix   index.Index
	deps dependencies
	log  logger

	entries []atomic.Pointer[targetEntry]

	ledger *Ledger

	useFastExtend atomic.Bool
}

// logger is the minimal logging surface Registry and friends need; satisfied
// by *persist.Logger or nil (in which case logging is skipped).
type logger interface {
	Println(v ...interface{})
	Critical(v ...interface{})
}

// NewRegistry creates a Registry with one (initially empty) slot per target
// in ix.
func NewRegistry(ix index.Index, ledger *Ledger, log logger) *Registry {
	return &Registry{
		ix:      ix,
		deps:    productionDependencies{},
		log:     log,
		entries: make([]atomic.Pointer[targetEntry], ix.NumTargets()),
		ledger:  ledger,
	}
}

func (r *Registry) logln(v ...interface{}) {
	if r.log != nil {
		r.log.Println(v...)
	}
}

// AttachForRead attaches a read-only stream for targetIndex. The ReadStream
// type already requires seeking; attaching a nil stream is programmer error
// (ErrInvalidArgument), not a runtime condition to recover from.
func (r *Registry) AttachForRead(targetIndex int, stream index.ReadStream) error {
	if stream == nil {
		return errors.Extend(ErrInvalidArgument, errors.New("nil stream"))
	}
	entry := &targetEntry{
		stream: readOnlyStream{stream},
		lock:   lock.New(maxLockHoldTime),
	}
	r.entries[targetIndex].Store(entry)
	return nil
}

// AttachForWriteFromFile opens (creating if absent) the target file at
// targetIndex for read/write, resizes it to the index's expected size if it
// differs, and optionally requests OS fast-extend to skip zero-filling.
// Fast-extend failures are logged and otherwise ignored.
func (r *Registry) AttachForWriteFromFile(targetIndex int, path string, useFastExtend bool) error {
	t := r.ix.Target(targetIndex)

	if err := r.deps.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Extend(err, errors.New("could not create target directory"))
	}
	f, err := r.deps.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Extend(err, errors.New("could not open target file"))
	}

	stream := osFileStream{f}
	curLen, err := stream.Len()
	if err != nil {
		f.Close()
		return errors.Extend(err, errors.New("could not stat target file"))
	}
	if curLen != t.FileSize() {
		if err := r.preallocate(stream, t.FileSize(), useFastExtend); err != nil {
			f.Close()
			return errors.Extend(err, errors.New("could not preallocate target file"))
		}
	}

	entry := &targetEntry{
		stream: stream,
		lock:   lock.New(maxLockHoldTime),
	}
	r.entries[targetIndex].Store(entry)
	return nil
}

// preallocate resizes stream to size. When useFastExtend is requested it
// first tries the OS fast-extend privilege (platformFastExtend); failure
// there is logged, not fatal, and we fall back to the slow Truncate path.
func (r *Registry) preallocate(stream osFileStream, size int64, useFastExtend bool) error {
	if useFastExtend && r.useFastExtend.Load() {
		if err := platformFastExtend(stream.File, size); err == nil {
			return nil
		} else {
			r.logln("fast-extend failed, falling back to slow preallocation:", err)
		}
	}
	return stream.Truncate(size)
}

// AttachAllForRead disposes all existing streams, then attaches every
// target that exists on disk for read, and marks every target that does not
// exist as entirely missing in the ledger.
func (r *Registry) AttachAllForRead(rootPath string) error {
	r.CloseAll()
	for i := 0; i < r.ix.NumTargets(); i++ {
		t := r.ix.Target(i)
		path := filepath.Join(rootPath, t.Path())
		fi, err := r.deps.Stat(path)
		if err != nil || fi.IsDir() {
			r.ledger.MarkFileAsMissing(t, i)
			continue
		}
		f, err := r.deps.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			r.ledger.MarkFileAsMissing(t, i)
			continue
		}
		if err := r.AttachForRead(i, f); err != nil {
			f.Close()
			r.ledger.MarkFileAsMissing(t, i)
		}
	}
	return nil
}

// AttachMissingForWrite disposes all existing streams, attempts to acquire
// the fast-extend privilege once, then reopens for writing every target
// that has any missing part or a recorded size mismatch.
func (r *Registry) AttachMissingForWrite(rootPath string) error {
	r.CloseAll()
	if platformAcquirePrivilege(r.log) {
		r.useFastExtend.Store(true)
	}

	for _, ti := range r.ledger.TargetsNeedingWrite() {
		t := r.ix.Target(ti)
		path := filepath.Join(rootPath, t.Path())
		if err := r.AttachForWriteFromFile(ti, path, true); err != nil {
			return err
		}
	}
	return nil
}

// Stream returns the attached stream for targetIndex, or nil if none is
// attached.
func (r *Registry) Stream(targetIndex int) index.Stream {
	e := r.entries[targetIndex].Load()
	if e == nil {
		return nil
	}
	return e.stream
}

// WithReadLock holds targetIndex's lock for reading while fn runs, so a
// verify pass can never observe a target's bytes mid-write. A no-op (fn
// still runs) if no stream is attached.
func (r *Registry) WithReadLock(targetIndex int, fn func() error) error {
	e := r.entries[targetIndex].Load()
	if e == nil {
		return fn()
	}
	id := fmt.Sprintf("target-%d", targetIndex)
	c := e.lock.RLock(id)
	defer e.lock.RUnlock(id, c)
	return fn()
}

// WriteToTarget writes all of buf to targetIndex at offset. It is a no-op
// if no stream is attached: a missing target with no attached
// stream simply has nothing to write to yet, which is only reachable if the
// caller never ran AttachMissingForWrite, itself a caller bug, not a runtime
// fault worth raising.
func (r *Registry) WriteToTarget(targetIndex int, offset int64, buf []byte) error {
	e := r.entries[targetIndex].Load()
	if e == nil {
		return nil
	}
	id := fmt.Sprintf("target-%d", targetIndex)
	c := e.lock.Lock(id)
	defer e.lock.Unlock(id, c)

	if _, err := e.stream.WriteAt(buf, offset); err != nil {
		return errors.Extend(err, errors.New("could not write target part"))
	}
	if err := e.stream.Sync(); err != nil {
		return errors.Extend(err, errors.New("could not flush target part"))
	}
	return nil
}

// CloseAll disposes every attached stream. Disposing the Registry disposes
// all of its streams.
func (r *Registry) CloseAll() {
	for i := range r.entries {
		e := r.entries[i].Swap(nil)
		if e == nil {
			continue
		}
		if err := e.stream.Sync(); err != nil {
			r.logln("error syncing target stream on close:", err)
			build.Severe("could not flush target stream on close:", err)
		}
		if c, ok := e.stream.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				r.logln("error closing target stream:", err)
				build.Severe("could not close target stream:", err)
			}
		}
	}
}
