// Package server implements the HTTP Contract Layer: a Gin router exposing
// the Simple Repository endpoints over the Cache Aggregator and File Cache.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/phuslu/log"

	"github.com/nm-proxpi/proxpi/internal/cache"
	"github.com/nm-proxpi/proxpi/internal/config"
	"github.com/nm-proxpi/proxpi/internal/filecache"
	"github.com/nm-proxpi/proxpi/internal/pypi"
)

// Server wires the Cache Aggregator and File Cache to the HTTP routes.
type Server struct {
	config *config.Config
	agg    *cache.Aggregator
	files  *filecache.Cache
	router *gin.Engine
}

// New constructs a Server and registers its routes.
func New(cfg *config.Config, agg *cache.Aggregator, files *filecache.Cache) *Server {
	if strings.EqualFold(cfg.LogLevel, "DEBUG") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %d - %v %s %s\n",
			param.TimeStamp.Format(time.RFC3339),
			param.StatusCode,
			param.Latency,
			param.Method,
			param.Path,
		)
	}))
	router.Use(gzip.Gzip(gzip.BestSpeed))

	s := &Server{config: cfg, agg: agg, files: files, router: router}
	s.setupRoutes()
	return s
}

// Router returns the underlying http.Handler, for use with net/http.Server.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleHome)
	s.router.GET("/health", s.handleHealth)

	s.router.GET("/index/", s.handleListProjects)
	s.router.GET("/index/:project/", s.handleListFiles)
	s.router.GET("/index/:project/:filename", s.handleDownload)

	s.router.DELETE("/cache/list", s.handleInvalidateAll)
	s.router.GET("/cache/list", methodNotAllowed)
	s.router.POST("/cache/list", methodNotAllowed)
	s.router.PUT("/cache/list", methodNotAllowed)
	s.router.PATCH("/cache/list", methodNotAllowed)
	s.router.HEAD("/cache/list", methodNotAllowed)
	s.router.OPTIONS("/cache/list", methodNotAllowed)

	s.router.DELETE("/cache/:project", s.handleInvalidateProject)

	s.router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not Found")
	})
}

func methodNotAllowed(c *gin.Context) {
	c.String(http.StatusMethodNotAllowed, "Method Not Allowed")
}

func (s *Server) handleHome(c *gin.Context) {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>proxpi</title></head>
<body>
<h1>proxpi</h1>
<p>Caching reverse proxy for a Simple Repository package index.</p>
<ul>
<li>Index URL: %s</li>
<li>Cache budget: %d bytes</li>
<li>Index TTL: %s</li>
</ul>
<p><a href="/index/">Browse packages</a> | <a href="/health">Health</a></p>
</body>
</html>`, s.config.IndexURL, s.config.CacheSize, s.config.IndexTTL.String())
	c.Header("Content-Type", "text/html")
	c.String(http.StatusOK, body)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data": gin.H{
			"cache_dir":         s.config.CacheDir,
			"index_url":         s.config.IndexURL,
			"cache_size_bytes":  s.config.CacheSize,
			"cache_used_bytes":  s.files.Size(),
			"index_ttl_seconds": int(s.config.IndexTTL.Seconds()),
			"source_count":      s.agg.SourceCount(),
		},
	})
}

func (s *Server) handleListProjects(c *gin.Context) {
	names, err := s.agg.ListProjects(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	if wantsJSON(c) {
		body, err := pypi.EncodeProjects(names)
		if err != nil {
			c.String(http.StatusInternalServerError, "encoding error")
			return
		}
		c.Data(http.StatusOK, "application/vnd.pypi.simple.v1+json", body)
		return
	}
	c.Data(http.StatusOK, "text/html", pypi.RenderHTMLProjects(names))
}

func (s *Server) handleListFiles(c *gin.Context) {
	project := c.Param("project")
	normalized := pypi.Normalize(project)
	if normalized != project {
		c.Redirect(http.StatusPermanentRedirect, "/index/"+normalized+"/")
		return
	}

	files, err := s.agg.ListFiles(c.Request.Context(), project)
	if err != nil {
		writeError(c, err)
		return
	}

	if wantsJSON(c) {
		body, err := pypi.EncodeFiles(project, files)
		if err != nil {
			c.String(http.StatusInternalServerError, "encoding error")
			return
		}
		c.Data(http.StatusOK, "application/vnd.pypi.simple.v1+json", body)
		return
	}
	c.Data(http.StatusOK, "text/html", pypi.RenderHTMLFiles(project, files))
}

func (s *Server) handleDownload(c *gin.Context) {
	project := c.Param("project")
	filename := c.Param("filename")
	normalized := pypi.Normalize(project)

	indexID, file, err := s.agg.ResolveFile(c.Request.Context(), normalized, filename)
	if err != nil {
		writeError(c, err)
		return
	}

	key := filecache.Key{IndexID: indexID, Project: normalized, Filename: filename}
	result, err := s.files.GetOrFetch(c.Request.Context(), key, file.URL)
	if err != nil {
		writeError(c, err)
		return
	}

	if result.Redirect {
		log.Debug().Str("project", normalized).Str("file", filename).Msg("download exceeded timeout, redirecting to upstream")
		c.Redirect(http.StatusFound, file.URL)
		return
	}
	if result.Cleanup != nil {
		defer result.Cleanup()
	}
	defer result.File.Close()

	contentType := "application/octet-stream"
	if !s.config.BinaryFileMimeType {
		contentType = mimeTypeFor(filename)
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	http.ServeContent(c.Writer, c.Request, filename, time.Time{}, result.File)
}

func (s *Server) handleInvalidateAll(c *gin.Context) {
	s.agg.InvalidateList()
	s.files.InvalidateAll()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleInvalidateProject(c *gin.Context) {
	project := c.Param("project")
	if project == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "project name required"})
		return
	}
	normalized := pypi.Normalize(project)
	s.agg.InvalidateProject(normalized)
	s.files.InvalidateProject(normalized)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps an error-kind sentinel to its HTTP status.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pypi.ErrInvalidName):
		c.String(http.StatusBadRequest, "invalid project name")
	case errors.Is(err, cache.ErrNotFound):
		c.String(http.StatusNotFound, "not found")
	case errors.Is(err, pypi.ErrUpstreamUnavailable):
		c.String(http.StatusBadGateway, "upstream unavailable")
	case errors.Is(err, filecache.ErrIO):
		log.Error().Err(err).Msg("file cache io error")
		c.String(http.StatusInternalServerError, "internal error")
	default:
		log.Error().Err(err).Msg("unhandled error")
		c.String(http.StatusInternalServerError, "internal error")
	}
}

// wantsJSON implements the content-negotiation rule: an explicit
// ?format= query wins, otherwise the Accept header must ask for the
// simple-repository JSON media type.
func wantsJSON(c *gin.Context) bool {
	c.Header("Vary", "Accept, Accept-Encoding")
	if format := c.Query("format"); format != "" {
		return strings.Contains(format, "json")
	}
	accept := c.GetHeader("Accept")
	if accept == "" {
		return false
	}
	return strings.Contains(accept, "application/vnd.pypi.simple.v1+json")
}

func mimeTypeFor(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".whl"):
		return "application/octet-stream"
	case strings.HasSuffix(filename, ".tar.gz"):
		return "application/gzip"
	case strings.HasSuffix(filename, ".zip"):
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
