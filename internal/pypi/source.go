// Package pypi implements the Index Source: a client for one upstream
// Simple Repository index, with HTML/JSON parsing and a per-source,
// TTL-bounded cache of the root project listing and per-project file
// listings.
package pypi

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/singleflight"
)

const (
	jsonAccept   = "application/vnd.pypi.simple.v1+json"
	htmlAccept   = "text/html"
	userAgentFmt = "proxpi-go/1.0 (+https://github.com/nm-proxpi/proxpi)"

	maxAttempts  = 3
	retryBase    = 100 * time.Millisecond
	retryCapTime = 2 * time.Second
)

// validProjectName rejects characters a project name normalization cannot
// sensibly collapse (path separators, control characters, whitespace).
var validProjectName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// projectEntry is the spec's ProjectCache: the ordered file list for one
// project, when it was populated, and whether a 404 was observed (negative
// cache).
type projectEntry struct {
	files       []File
	populatedAt time.Time
	notFound    bool
}

func (e *projectEntry) fresh(ttl time.Duration, now time.Time) bool {
	if e == nil {
		return false
	}
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.populatedAt) < ttl
}

// Config configures a Source.
type Config struct {
	BaseURL                string
	TTL                    time.Duration
	HTTPClient             *http.Client
	DisableSSLVerification bool
	ConnectTimeout         time.Duration
	ReadTimeout            time.Duration
}

// Source is one upstream Simple Repository index, holding its own
// root-listing and per-project caches rather than sharing a module-level
// singleton cache.
type Source struct {
	baseURL string
	ttl     time.Duration
	client  *http.Client

	mu          sync.RWMutex
	rootNames   []string
	rootValid   bool
	populatedAt time.Time

	projects map[string]*projectEntry

	sf singleflight.Group
}

// NewSource constructs a Source for one upstream base URL.
func NewSource(cfg Config) *Source {
	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient(cfg)
	}
	return &Source{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		ttl:      cfg.TTL,
		client:   client,
		projects: make(map[string]*projectEntry),
	}
}

func defaultHTTPClient(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.DisableSSLVerification, //nolint:gosec // operator opt-in
		},
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	timeout := cfg.ConnectTimeout + cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// ListProjects returns the root listing of project display names, refreshing
// from upstream when the cached copy is stale or absent.
func (s *Source) ListProjects(ctx context.Context) ([]string, error) {
	now := time.Now()
	s.mu.RLock()
	fresh := s.rootValid && s.ttl > 0 && now.Sub(s.populatedAt) < s.ttl
	cached := s.rootNames
	haveCache := s.rootValid
	s.mu.RUnlock()

	if fresh {
		return cached, nil
	}

	result, err, _ := s.sf.Do("list", func() (any, error) {
		names, fetchErr := s.fetchList(ctx)
		if fetchErr != nil {
			return nil, fetchErr
		}
		s.mu.Lock()
		s.rootNames = names
		s.rootValid = true
		s.populatedAt = time.Now()
		s.mu.Unlock()
		return names, nil
	})
	if err != nil {
		if haveCache {
			log.Warn().Err(err).Str("index", s.baseURL).Msg("root listing refresh failed, serving stale copy")
			return cached, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, err)
	}
	return result.([]string), nil
}

// ListFiles returns the file listing for a project, refreshing from
// upstream when stale or absent. found is false when the project is known
// not to exist upstream: a fresh negative cache entry, a live 404, or,
// when the live fetch fails, a stale negative cache entry.
func (s *Source) ListFiles(ctx context.Context, projectName string) ([]File, bool, error) {
	if !validProjectName.MatchString(projectName) {
		return nil, false, ErrInvalidName
	}
	normalized := Normalize(projectName)
	now := time.Now()

	s.mu.RLock()
	entry := s.projects[normalized]
	isFresh := entry.fresh(s.ttl, now)
	s.mu.RUnlock()

	if isFresh {
		if entry.notFound {
			return nil, false, nil
		}
		return entry.files, true, nil
	}

	result, err, _ := s.sf.Do("project:"+normalized, func() (any, error) {
		files, status, fetchErr := s.fetchProject(ctx, normalized)
		if fetchErr != nil {
			return nil, fetchErr
		}
		if status == http.StatusNotFound {
			s.mu.Lock()
			s.projects[normalized] = &projectEntry{notFound: true, populatedAt: time.Now()}
			s.mu.Unlock()
			return (*projectEntry)(nil), nil
		}
		s.mu.Lock()
		s.projects[normalized] = &projectEntry{files: files, populatedAt: time.Now()}
		s.mu.Unlock()
		return files, nil
	})

	if err != nil {
		s.mu.RLock()
		stale := s.projects[normalized]
		s.mu.RUnlock()
		if stale != nil {
			log.Warn().Err(err).Str("project", normalized).Msg("project refresh failed, serving stale copy")
			if stale.notFound {
				return nil, false, nil
			}
			return stale.files, true, nil
		}
		return nil, false, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, err)
	}

	if _, ok := result.(*projectEntry); ok {
		return nil, false, nil // freshly observed 404
	}
	return result.([]File), true, nil
}

// InvalidateList drops the cached root listing.
func (s *Source) InvalidateList() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootNames = nil
	s.rootValid = false
}

// InvalidateProject drops the cached per-project listing.
func (s *Source) InvalidateProject(projectName string) {
	normalized := Normalize(projectName)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, normalized)
}

// BaseURL returns the upstream base URL this source was configured with.
func (s *Source) BaseURL() string { return s.baseURL }

func (s *Source) fetchList(ctx context.Context) ([]string, error) {
	resp, err := s.getWithRetry(ctx, s.baseURL+"/")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, s.baseURL)
	}

	if isJSON(resp) {
		return parseJSONProjects(resp.Body)
	}
	return parseHTMLProjects(resp.Body)
}

func (s *Source) fetchProject(ctx context.Context, normalized string) ([]File, int, error) {
	target := s.baseURL + "/" + normalized + "/"
	resp, err := s.getWithRetry(ctx, target)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, http.StatusNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("HTTP %d from %s", resp.StatusCode, target)
	}

	effectiveURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		effectiveURL = resp.Request.URL.String()
	}

	var files []File
	if isJSON(resp) {
		files, err = parseJSONFiles(effectiveURL, resp.Body)
	} else {
		files, err = parseHTMLFiles(effectiveURL, resp.Body)
	}
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return files, http.StatusOK, nil
}

// getWithRetry performs a GET with the process-wide Accept/User-Agent
// headers, retrying bounded, short transient failures (network errors and
// 5xx responses) with capped exponential backoff and jitter.
func (s *Source) getWithRetry(ctx context.Context, target string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBase * time.Duration(1<<uint(attempt-1))
			if delay > retryCapTime {
				delay = retryCapTime
			}
			delay += time.Duration(rand.Int63n(int64(retryBase)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", jsonAccept+", "+htmlAccept+";q=0.9")
		req.Header.Set("User-Agent", userAgentFmt)

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d from %s", resp.StatusCode, target)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func isJSON(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.Contains(ct, "json")
}
