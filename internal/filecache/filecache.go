// Package filecache implements the File Cache and Download Coordinator: an
// on-disk content cache keyed by (index, project, filename) that downloads
// on miss, serves on hit, coalesces concurrent downloads of the same key
// into a single producer, and evicts to stay within a byte budget.
package filecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/phuslu/log"
)

const chunkSize = 16 * 1024

// Config configures a Cache.
type Config struct {
	Dir             string
	Budget          int64 // byte budget; 0 disables caching entirely
	DownloadTimeout time.Duration
	HTTPClient      *http.Client

	// Adopt, when true, treats pre-existing files under Dir as READY
	// entries (sized via os.Stat) instead of starting from an empty
	// cache. Only meaningful when Dir was supplied pre-populated
	// (PROXPI_CACHE_DIR), per the §9 Open Question decision: adopt,
	// don't purge.
	Adopt bool
}

// Cache is the File Cache.
type Cache struct {
	dir             string
	budget          int64
	downloadTimeout time.Duration
	client          *http.Client

	mu          sync.Mutex
	entries     map[Key]*entry
	downloading map[Key]*downloadHandle
	totalSize   int64
}

// New constructs a Cache rooted at cfg.Dir, optionally adopting pre-existing
// files as READY.
func New(cfg Config) (*Cache, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	c := &Cache{
		dir:             cfg.Dir,
		budget:          cfg.Budget,
		downloadTimeout: cfg.DownloadTimeout,
		client:          client,
		entries:         make(map[Key]*entry),
		downloading:     make(map[Key]*downloadHandle),
	}
	if cfg.Adopt {
		if err := c.adopt(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// adopt walks the cache directory and registers every existing file as a
// READY entry, sized via os.Stat.
func (c *Cache) adopt() error {
	return filepath.Walk(c.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil //nolint:nilerr // best-effort adoption, skip unreadable entries
		}
		rel, err := filepath.Rel(c.dir, path)
		if err != nil {
			return nil
		}
		parts := splitRel(rel)
		if len(parts) != 3 {
			return nil
		}
		var indexID int
		if _, err := fmt.Sscanf(parts[0], "%d", &indexID); err != nil {
			return nil
		}
		key := Key{IndexID: indexID, Project: parts[1], Filename: parts[2]}
		c.entries[key] = &entry{state: stateReady, path: path, size: info.Size(), lastAccess: time.Now()}
		c.totalSize += info.Size()
		return nil
	})
}

// splitRel breaks a cache-relative path into its <index-id>/<project>/
// <filename> components.
func splitRel(rel string) []string {
	var parts []string
	for rel != "." && rel != string(filepath.Separator) && rel != "" {
		dir, file := filepath.Split(filepath.Clean(rel))
		parts = append([]string{file}, parts...)
		next := filepath.Clean(dir)
		if next == rel {
			break
		}
		rel = next
	}
	return parts
}

// Result is returned by GetOrFetch.
type Result struct {
	// Path is the local file to serve, valid when Redirect is false and
	// Err is nil.
	Path string
	// File, when non-nil, is already open and must be used instead of
	// reopening Path: for an in-flight download it is a private section
	// reader over the producer's fd (see sharedFile), acquired before
	// eviction could run, so it stays readable even if Path is
	// concurrently unlinked (an artifact larger than the budget is
	// evicted immediately after publication).
	File io.ReadSeekCloser
	// Cleanup, if non-nil, must be called by the caller once it is done
	// reading the file (used for the zero-budget, never-cached case).
	Cleanup func()
	// Redirect is true when the download timeout elapsed before the
	// producer finished; the caller should 302 to the upstream URL. The
	// download continues in the background regardless.
	Redirect bool
}

// GetOrFetch serves a READY entry, attaches to an in-flight producer, or
// becomes the producer, in all cases bounded by the configured
// download-timeout before falling back to Redirect.
func (c *Cache) GetOrFetch(ctx context.Context, key Key, upstreamURL string) (Result, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.state == stateReady {
		e.lastAccess = time.Now()
		path := e.path
		c.mu.Unlock()
		f, err := os.Open(path)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %s", ErrIO, err)
		}
		return Result{Path: path, File: f}, nil
	}

	if handle, ok := c.downloading[key]; ok {
		c.mu.Unlock()
		return c.await(ctx, handle, upstreamURL)
	}

	if c.budget == 0 {
		c.mu.Unlock()
		return c.downloadEphemeral(ctx, upstreamURL)
	}

	handle := newDownloadHandle()
	c.downloading[key] = handle
	c.mu.Unlock()

	go c.produce(key, upstreamURL, handle)

	return c.await(ctx, handle, upstreamURL)
}

// await waits on a producer's completion up to the configured
// download-timeout, matching the Download Coordinator contract: waiters
// may abandon a wait on timeout without canceling the producer.
func (c *Cache) await(ctx context.Context, handle *downloadHandle, upstreamURL string) (Result, error) {
	timer := time.NewTimer(c.downloadTimeout)
	defer timer.Stop()

	select {
	case <-handle.done:
		if handle.err != nil {
			return Result{}, handle.err
		}
		return Result{Path: handle.path, File: handle.shared.acquire()}, nil
	case <-timer.C:
		return Result{Redirect: true}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// produce is the Download Coordinator's producer: it downloads exactly
// once, publishes the result, and signals every waiter via handle.
func (c *Cache) produce(key Key, upstreamURL string, handle *downloadHandle) {
	path, size, err := c.download(key, upstreamURL)

	c.mu.Lock()
	delete(c.downloading, key)
	if err != nil {
		c.mu.Unlock()
		handle.fail(err)
		return
	}
	c.entries[key] = &entry{state: stateReady, path: path, size: size, lastAccess: time.Now()}
	c.totalSize += size
	c.mu.Unlock()

	// Open the artifact before running eviction: a single download
	// larger than the budget is evicted immediately after publication,
	// and this fd keeps serving the originating waiter valid even once
	// the path is unlinked underneath it.
	f, openErr := os.Open(path)
	if openErr != nil {
		handle.fail(fmt.Errorf("%w: %s", ErrIO, openErr))
		return
	}

	c.mu.Lock()
	evicted := c.evictLocked()
	c.mu.Unlock()

	for _, p := range evicted {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", p).Msg("failed to remove evicted cache file")
		}
	}

	handle.succeed(path, f, size)
}

// download streams upstreamURL to a uniquely named temp file beside its
// final path and atomically renames on success.
func (c *Cache) download(key Key, upstreamURL string) (string, int64, error) {
	dir := key.dir(c.dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("%w: %s", ErrIO, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+key.Filename+"-*")
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s", ErrIO, err)
	}
	tmpPath := tmp.Name()
	cleanupTmp := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	resp, err := c.client.Get(upstreamURL)
	if err != nil {
		cleanupTmp()
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		cleanupTmp()
		return "", 0, fmt.Errorf("upstream returned HTTP %d for %s", resp.StatusCode, upstreamURL)
	}

	size, err := copyInChunks(tmp, resp.Body)
	if err != nil {
		cleanupTmp()
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("%w: %s", ErrIO, err)
	}

	finalPath := key.path(c.dir)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("%w: %s", ErrIO, err)
	}
	return finalPath, size, nil
}

// downloadEphemeral serves the zero-budget case: a zero byte budget
// disables caching entirely, so every request downloads directly and
// nothing is recorded. The file is written to a scratch location never
// tracked by the entry map and must be removed by the caller via
// Result.Cleanup once serving completes.
func (c *Cache) downloadEphemeral(ctx context.Context, upstreamURL string) (Result, error) {
	tmp, err := os.CreateTemp("", "proxpi-ephemeral-*")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrIO, err)
	}
	tmpPath := tmp.Name()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL, nil)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Result{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		tmp.Close()
		os.Remove(tmpPath)
		return Result{}, fmt.Errorf("upstream returned HTTP %d for %s", resp.StatusCode, upstreamURL)
	}

	if _, err := copyInChunks(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Result{}, err
	}
	tmp.Close()

	f, err := os.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return Result{}, fmt.Errorf("%w: %s", ErrIO, err)
	}

	return Result{Path: tmpPath, File: f, Cleanup: func() { os.Remove(tmpPath) }}, nil
}

func copyInChunks(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return total, fmt.Errorf("%w: %s", ErrIO, writeErr)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

// evictLocked removes the smallest-size READY entries (ties broken by
// oldest last-access — a deliberate deviation from plain LRU) until total
// size is within budget. Must be called with c.mu held; returns the paths
// to unlink on disk, which the caller must remove outside the lock.
func (c *Cache) evictLocked() []string {
	var removed []string
	for c.totalSize > c.budget {
		var victimKey Key
		var victim *entry
		for k, e := range c.entries {
			if e.state != stateReady {
				continue
			}
			if victim == nil ||
				e.size < victim.size ||
				(e.size == victim.size && e.lastAccess.Before(victim.lastAccess)) {
				victimKey, victim = k, e
			}
		}
		if victim == nil {
			break
		}
		delete(c.entries, victimKey)
		c.totalSize -= victim.size
		removed = append(removed, victim.path)
	}
	return removed
}

// InvalidateProject evicts every READY entry belonging to project across
// all indexes.
func (c *Cache) InvalidateProject(project string) {
	c.mu.Lock()
	var removed []string
	for k, e := range c.entries {
		if k.Project != project || e.state != stateReady {
			continue
		}
		delete(c.entries, k)
		c.totalSize -= e.size
		removed = append(removed, e.path)
	}
	c.mu.Unlock()

	for _, p := range removed {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", p).Msg("failed to remove invalidated cache file")
		}
	}
}

// InvalidateAll evicts every READY entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	var removed []string
	for k, e := range c.entries {
		if e.state != stateReady {
			continue
		}
		delete(c.entries, k)
		removed = append(removed, e.path)
	}
	c.totalSize = 0
	c.mu.Unlock()

	for _, p := range removed {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", p).Msg("failed to remove invalidated cache file")
		}
	}
}

// Size returns the current sum of READY entry sizes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize
}
