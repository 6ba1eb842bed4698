package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nm-proxpi/proxpi/internal/pypi"
)

func serveProjects(names ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		for _, n := range names {
			w.Write([]byte(`<a href="/` + n + `/">` + n + `</a>`))
		}
	}
}

func serveFiles(files ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		for _, f := range files {
			w.Write([]byte(`<a href="/f/` + f + `">` + f + `</a>`))
		}
	}
}

func newSource(t *testing.T, handler http.HandlerFunc) *pypi.Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return pypi.NewSource(pypi.Config{BaseURL: srv.URL, TTL: time.Minute})
}

func TestAggregator_ListProjects_UnionRootWinsDisplayName(t *testing.T) {
	root := newSource(t, serveProjects("jinja2"))
	extra := newSource(t, serveProjects("Jinja2", "lefty"))
	agg := New(root, extra)

	names, err := agg.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v", names)
	}
	if names[0] != "jinja2" {
		t.Errorf("expected root's display name 'jinja2' to win, got %q", names[0])
	}
	if names[1] != "lefty" {
		t.Errorf("names[1] = %q", names[1])
	}
}

func TestAggregator_ListFiles_RootWinsWhenNonEmpty(t *testing.T) {
	root := newSource(t, serveFiles("pkg-1.0.whl"))
	extra := newSource(t, serveFiles("pkg-0.9.whl"))
	agg := New(root, extra)

	files, err := agg.ListFiles(context.Background(), "pkg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 || files[0].Name != "pkg-1.0.whl" {
		t.Errorf("files = %v", files)
	}
}

func TestAggregator_ListFiles_FallsThroughToExtraWhenRootEmpty(t *testing.T) {
	root := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	extra := newSource(t, serveFiles("lefty-1.0.whl"))
	agg := New(root, extra)

	files, err := agg.ListFiles(context.Background(), "lefty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 || files[0].Name != "lefty-1.0.whl" {
		t.Errorf("files = %v", files)
	}
}

func TestAggregator_ListFiles_NotFoundWhenEverySourceMisses(t *testing.T) {
	notFound := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}
	agg := New(newSource(t, notFound), newSource(t, notFound))

	_, err := agg.ListFiles(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAggregator_ListFiles_UpstreamUnavailableWhenEverySourceFails(t *testing.T) {
	fail := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	agg := New(newSource(t, fail), newSource(t, fail))

	_, err := agg.ListFiles(context.Background(), "pkg")
	if !errors.Is(err, pypi.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestAggregator_ResolveFile_ReturnsSourceIndex(t *testing.T) {
	root := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	extra := newSource(t, serveFiles("lefty-1.0.whl"))
	agg := New(root, extra)

	idx, file, err := agg.ResolveFile(context.Background(), "lefty", "lefty-1.0.whl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx != 1 {
		t.Errorf("expected source index 1, got %d", idx)
	}
	if file.Name != "lefty-1.0.whl" {
		t.Errorf("file = %+v", file)
	}
}

func TestAggregator_ResolveFile_NotFoundWhenFilenameMissing(t *testing.T) {
	agg := New(newSource(t, serveFiles("pkg-1.0.whl")))
	_, _, err := agg.ResolveFile(context.Background(), "pkg", "pkg-2.0.whl")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAggregator_ResolveFile_DoesNotFallThroughPastWinningSource(t *testing.T) {
	root := newSource(t, serveFiles("pkg-1.0.whl"))
	extra := newSource(t, serveFiles("pkg-1.0.whl", "pkg-2.0.whl"))
	agg := New(root, extra)

	// root's listing is non-empty, so it wins outright per ListFiles
	// precedence; pkg-2.0.whl is only visible on extra and must not be
	// downloadable even though extra happens to carry it.
	_, _, err := agg.ResolveFile(context.Background(), "pkg", "pkg-2.0.whl")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAggregator_InvalidateList_ForcesRefetchOnAllSources(t *testing.T) {
	var rootHits, extraHits int
	root := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		rootHits++
		serveProjects("a")(w, r)
	})
	extra := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		extraHits++
		serveProjects("b")(w, r)
	})
	agg := New(root, extra)

	if _, err := agg.ListProjects(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	agg.InvalidateList()
	if _, err := agg.ListProjects(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rootHits != 2 || extraHits != 2 {
		t.Errorf("rootHits=%d extraHits=%d, expected 2 each", rootHits, extraHits)
	}
}

func TestAggregator_InvalidateProject_ForcesRefetchOnAllSources(t *testing.T) {
	var hits int
	src := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		serveFiles("pkg-1.0.whl")(w, r)
	})
	agg := New(src)

	if _, err := agg.ListFiles(context.Background(), "pkg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	agg.InvalidateProject("pkg")
	if _, err := agg.ListFiles(context.Background(), "pkg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 2 {
		t.Errorf("hits = %d, expected 2", hits)
	}
}

func TestAggregator_SourceCount(t *testing.T) {
	agg := New(newSource(t, serveProjects()), newSource(t, serveProjects()), newSource(t, serveProjects()))
	if agg.SourceCount() != 3 {
		t.Errorf("SourceCount() = %d", agg.SourceCount())
	}
}
