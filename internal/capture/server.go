package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/endalk200/better-webhook/internal/httputil"
)

// DefaultMaxBodyBytes caps inbound request bodies; larger requests get 413.
const DefaultMaxBodyBytes int64 = 10 << 20

// ShutdownGrace bounds how long Stop waits for in-flight handlers.
const ShutdownGrace = 5 * time.Second

// ServerOptions configures the capture server.
type ServerOptions struct {
	Host         string
	Port         int
	MaxBodyBytes int64
	ToolVersion  string
}

// Server accepts any method on any path and persists each request as a
// capture record. It never forwards or echoes requests.
type Server struct {
	store    *Store
	registry *Registry
	opts     ServerOptions

	engine     *gin.Engine
	httpServer *http.Server
	captured   atomic.Int64
}

// NewServer wires the capture handler into a fresh gin engine.
func NewServer(store *Store, registry *Registry, opts ServerOptions) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		store:    store,
		registry: registry,
		opts:     opts,
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	// No routes are registered: every request of every method lands in the
	// NoRoute handler.
	engine.NoRoute(s.handle)
	s.engine = engine
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler: engine,
	}
	return s
}

// Handler exposes the engine for httptest-style exercising.
func (s *Server) Handler() http.Handler { return s.engine }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Captured returns how many requests have been persisted.
func (s *Server) Captured() int64 { return s.captured.Load() }

func (s *Server) handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.opts.MaxBodyBytes+1))
	if err != nil {
		logrus.Warnf("Failed to read request body: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if int64(len(body)) > s.opts.MaxBodyBytes {
		logrus.Warnf("Rejecting %s %s: body exceeds %d bytes", c.Request.Method, c.Request.URL.Path, s.opts.MaxBodyBytes)
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}

	headers := headersFromRequest(c.Request)
	rec := s.store.BuildBaseRecord(s.opts.ToolVersion)
	rec.Method = c.Request.Method
	rec.URL = c.Request.URL.RequestURI()
	rec.Path = c.Request.URL.Path
	rec.Headers = headers
	rec.ContentType = c.Request.Header.Get("Content-Type")
	rec.ContentLength = c.Request.ContentLength
	rec.RawBodyBase64 = base64.StdEncoding.EncodeToString(body)

	det := s.registry.Detect(DetectionContext{
		Method:  rec.Method,
		Path:    rec.Path,
		Headers: headers,
		Body:    body,
	})
	rec.Provider = det.Provider

	file, err := s.store.Save(c.Request.Context(), rec)
	if err != nil {
		logrus.Errorf("Failed to persist capture: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	s.captured.Add(1)
	logrus.Infof("Captured %s %s provider=%s id=%s file=%s",
		rec.Method, rec.Path, rec.Provider, shortID(rec.ID), file.Filename)
	c.Status(http.StatusNoContent)
}

// headersFromRequest flattens the parsed header map into ordered pairs.
// net/http does not retain wire order across keys, so keys are sorted for a
// stable layout; value order within a key is preserved, duplicates included.
func headersFromRequest(r *http.Request) []httputil.Header {
	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	headers := make([]httputil.Header, 0, len(keys))
	for _, k := range keys {
		for _, v := range r.Header[k] {
			headers = append(headers, httputil.Header{Key: k, Value: v})
		}
	}
	if r.Host != "" {
		headers = append(headers, httputil.Header{Key: "Host", Value: r.Host})
	}
	return headers
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	logrus.Infof("Capture server listening on http://%s (captures dir: %s)", s.httpServer.Addr, s.store.Dir())
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("capture server: %w", err)
	}
	return nil
}

// Stop shuts the listener down and waits for in-flight handlers up to the
// grace period.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	logrus.Infof("Capture server stopping after %d captures", s.captured.Load())
	return s.httpServer.Shutdown(ctx)
}
