// Package cache implements the Cache Aggregator: it composes a root
// pypi.Source with zero or more "extra" sources into one merged view for
// project listing, file lookup, and invalidation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nm-proxpi/proxpi/internal/pypi"
)

// ErrNotFound means every composed source reports the project or file as
// unknown.
var ErrNotFound = errors.New("not found")

// Aggregator composes a root Index Source (index id 0) with ordered extra
// sources (index ids 1..N). Sources are leaves; the aggregator holds them,
// never the reverse.
type Aggregator struct {
	sources []*pypi.Source // sources[0] is root, sources[1:] are extras, in precedence order
}

// New builds an Aggregator. root is index 0; extras are indexed 1..N in
// the order given, which is also their lookup precedence after root.
func New(root *pypi.Source, extras ...*pypi.Source) *Aggregator {
	sources := make([]*pypi.Source, 0, 1+len(extras))
	sources = append(sources, root)
	sources = append(sources, extras...)
	return &Aggregator{sources: sources}
}

// SourceCount returns the number of composed sources (root + extras).
func (a *Aggregator) SourceCount() int { return len(a.sources) }

// ListProjects returns the union of every source's project list. The root
// index's display name wins for any name it lists; otherwise the first
// extra (in precedence order) that lists it wins. Output is ordered
// deterministically by normalized name.
func (a *Aggregator) ListProjects(ctx context.Context) ([]string, error) {
	displayByNormalized := make(map[string]string)
	anySucceeded := false

	for i := len(a.sources) - 1; i >= 0; i-- {
		names, err := a.sources[i].ListProjects(ctx)
		if err != nil {
			continue
		}
		anySucceeded = true
		for _, name := range names {
			displayByNormalized[pypi.Normalize(name)] = name
		}
	}

	if !anySucceeded {
		return nil, fmt.Errorf("%w: all sources failed", pypi.ErrUpstreamUnavailable)
	}

	keys := make([]string, 0, len(displayByNormalized))
	for k := range displayByNormalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]string, len(keys))
	for i, k := range keys {
		result[i] = displayByNormalized[k]
	}
	return result, nil
}

// ListFiles queries sources in precedence order (root first). The first
// source that returns a non-empty file list wins. If every source reports
// "not found", ErrNotFound is returned; if every source fails transiently,
// pypi.ErrUpstreamUnavailable is returned.
func (a *Aggregator) ListFiles(ctx context.Context, project string) ([]pypi.File, error) {
	sawNotFound := false
	sawFailure := false
	var lastErr error

	for _, src := range a.sources {
		files, found, err := src.ListFiles(ctx, project)
		if err != nil {
			if errors.Is(err, pypi.ErrInvalidName) {
				return nil, err
			}
			sawFailure = true
			lastErr = err
			continue
		}
		if found && len(files) > 0 {
			return files, nil
		}
		if !found {
			sawNotFound = true
		}
	}

	if sawFailure && !sawNotFound {
		return nil, fmt.Errorf("%w: %s", pypi.ErrUpstreamUnavailable, lastErr)
	}
	return nil, ErrNotFound
}

// ResolveFile locates the File record needed to serve a download, using the
// same precedence as ListFiles, and returns the owning source's index
// identifier so the File Cache can key its on-disk layout on it.
func (a *Aggregator) ResolveFile(ctx context.Context, project, filename string) (int, pypi.File, error) {
	sawNotFound := false
	sawFailure := false
	var lastErr error

	for idx, src := range a.sources {
		files, found, err := src.ListFiles(ctx, project)
		if err != nil {
			if errors.Is(err, pypi.ErrInvalidName) {
				return 0, pypi.File{}, err
			}
			sawFailure = true
			lastErr = err
			continue
		}
		if !found || len(files) == 0 {
			if !found {
				sawNotFound = true
			}
			continue
		}
		// This is the source ListFiles would pick: its listing wins the
		// project outright, so the filename must resolve here or not at
		// all — it must not fall through to a lower-precedence source.
		for _, f := range files {
			if f.Name == filename {
				return idx, f, nil
			}
		}
		return 0, pypi.File{}, ErrNotFound
	}

	if sawFailure && !sawNotFound {
		return 0, pypi.File{}, fmt.Errorf("%w: %s", pypi.ErrUpstreamUnavailable, lastErr)
	}
	return 0, pypi.File{}, ErrNotFound
}

// InvalidateList drops the cached root listing across every source.
func (a *Aggregator) InvalidateList() {
	for _, src := range a.sources {
		src.InvalidateList()
	}
}

// InvalidateProject drops the named project's cache entry across every
// source.
func (a *Aggregator) InvalidateProject(project string) {
	for _, src := range a.sources {
		src.InvalidateProject(project)
	}
}
