package filecache

import (
	"io"
	"os"
	"sync/atomic"
	"time"
)

type state int

const (
	stateAbsent state = iota
	stateReady
)

// entry is the FileCacheEntry: a READY artifact's location, size, and
// last-access time used for eviction ordering. Entries not present in the
// Cache's map are implicitly ABSENT.
type entry struct {
	state      state
	path       string
	size       int64
	lastAccess time.Time
}

// downloadHandle is the Download Coordinator's one-shot completion signal
// for a single (index, project, file) key. done is closed exactly once by
// the producer; path/shared/size/err are only valid to read after done is
// closed.
type downloadHandle struct {
	done chan struct{}
	path string
	// shared wraps the fd the producer opened before eviction ran (see
	// Cache.produce); every waiter acquires its own independent reader
	// over it instead of sharing one Seek cursor.
	shared *sharedFile
	size   int64
	err    error
}

func newDownloadHandle() *downloadHandle {
	return &downloadHandle{done: make(chan struct{})}
}

func (h *downloadHandle) succeed(path string, f *os.File, size int64) {
	h.path = path
	h.shared = newSharedFile(f, size)
	h.size = size
	close(h.done)
}

func (h *downloadHandle) fail(err error) {
	h.err = err
	close(h.done)
}

// sharedFile lets every waiter attached to one download read the same
// already-open fd independently, without reopening its path by name: the
// producer opens the fd before eviction runs, so the path may already be
// unlinked by the time a waiter wakes up, and re-opening it then would
// fail. Each acquire hands out a section reader with its own Seek cursor,
// backed by os.File.ReadAt (pread, safe for concurrent callers with no
// shared offset). The underlying fd closes once every acquired reader has
// been released.
type sharedFile struct {
	f    *os.File
	size int64
	refs int32
}

func newSharedFile(f *os.File, size int64) *sharedFile {
	return &sharedFile{f: f, size: size}
}

// acquire returns an independent io.ReadSeekCloser over the shared fd.
func (s *sharedFile) acquire() io.ReadSeekCloser {
	atomic.AddInt32(&s.refs, 1)
	return &sectionFile{SectionReader: io.NewSectionReader(s.f, 0, s.size), shared: s}
}

func (s *sharedFile) release() error {
	if atomic.AddInt32(&s.refs, -1) == 0 {
		return s.f.Close()
	}
	return nil
}

// sectionFile adapts a sharedFile acquisition to io.ReadSeekCloser: Read
// and Seek come from the embedded section reader's private cursor; Close
// releases this waiter's share of the underlying fd.
type sectionFile struct {
	*io.SectionReader
	shared *sharedFile
}

func (sf *sectionFile) Close() error { return sf.shared.release() }
