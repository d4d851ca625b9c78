package fileserver

import (
	"fmt"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog"
)

// Default port range shared by all peers. Scanning a range instead of a
// fixed port lets several peers coexist on one host.
const (
	DefaultPortMin = 51338
	DefaultPortMax = 51388
)

// Server serves registered files and avatars over plain HTTP and routes
// /api/v1 traffic to an injected control-plane handler. Each connection is
// handled on its own goroutine by net/http, so a slow download never blocks
// anything else.
type Server struct {
	registry *Registry
	portMin  int
	portMax  int

	mu   sync.Mutex
	srv  *http.Server
	port int
	api  http.Handler
}

func New() *Server {
	return NewWithRange(DefaultPortMin, DefaultPortMax)
}

func NewWithRange(portMin, portMax int) *Server {
	return &Server{
		registry: NewRegistry(),
		portMin:  portMin,
		portMax:  portMax,
	}
}

// Registry exposes the file/avatar registry for the orchestrator.
func (s *Server) Registry() *Registry { return s.registry }

// SetAPIHandler installs (or clears) the control-plane handler mounted under
// /api/v1. May be called before or after the server starts.
func (s *Server) SetAPIHandler(h http.Handler) {
	s.mu.Lock()
	s.api = h
	s.mu.Unlock()
}

// Port returns the bound port, or 0 when the server is not running.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// EnsureRunning binds the first free port in range and starts serving,
// returning the bound port. A second call is a cheap no-op returning the
// existing port. Returns 0 when the whole range is occupied: file serving is
// degraded for this session, not fatal.
func (s *Server) EnsureRunning() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return s.port
	}
	var ln net.Listener
	var port int
	for p := s.portMin; p <= s.portMax; p++ {
		l, err := net.Listen("tcp4", fmt.Sprintf("0.0.0.0:%d", p))
		if err != nil {
			continue
		}
		ln, port = l, p
		break
	}
	if ln == nil {
		return 0
	}

	logger := httplog.NewLogger("fileserver", httplog.Options{JSON: false, Concise: true})
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Get("/f/{fileID}", s.handleFile)
	r.Get("/avatar/{sha256}", s.handleAvatar)
	r.HandleFunc("/api/v1", s.serveAPI)
	r.HandleFunc("/api/v1/*", s.serveAPI)

	s.srv = &http.Server{Handler: r}
	s.port = port
	go func(srv *http.Server, ln net.Listener) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("file server: %v", err)
		}
	}(s.srv, ln)
	return port
}

// Shutdown closes the listener. Idempotent; in-flight responses abort per
// normal socket-close semantics.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return
	}
	_ = s.srv.Close()
	s.srv = nil
	s.port = 0
}

func (s *Server) serveAPI(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	api := s.api
	s.mu.Unlock()
	if api == nil {
		http.NotFound(w, r)
		return
	}
	api.ServeHTTP(w, r)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	path, ok := s.registry.FilePath(fileID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	streamAttachment(w, r, path, filepath.Base(path))
}

func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request) {
	sha := chi.URLParam(r, "sha256")
	path, ok := s.registry.AvatarPath(sha)
	if !ok {
		http.NotFound(w, r)
		return
	}
	streamAttachment(w, r, path, fmt.Sprintf("avatar_%s.png", sha))
}

func streamAttachment(w http.ResponseWriter, r *http.Request, path, downloadName string) {
	f, err := os.Open(path)
	if err != nil {
		// Registered but since removed from disk: no stale serving.
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("file stream %s: %v", downloadName, err)
	}
}
