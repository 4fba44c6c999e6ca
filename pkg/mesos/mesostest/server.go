// Package mesostest provides an in-process fake of the DC/OS and Mesos
// endpoints used by dcos-node, for tests.
package mesostest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
)

// MasterOwner is the owner key for files served by the master.
const MasterOwner = "master"

// Server fakes a cluster: files per owner ("master" or a slave ID), a state
// summary, and the metadata document. Server is safe for concurrent use.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	slaves   []map[string]interface{}
	publicIP string
	failures map[string]int
	pageSize int
	requests int
	token    string
}

// NewServer starts a fake cluster. Close it when done.
func NewServer() *Server {
	s := &Server{
		files:    make(map[string][]byte),
		failures: make(map[string]int),
		publicIP: "203.0.113.10",
	}

	r := chi.NewRouter()
	r.Use(s.count)
	r.Get("/metadata", s.handleMetadata)
	r.Get("/mesos/master/state-summary", s.handleStateSummary)
	r.Get("/mesos/files/read.json", s.handleRead(func(*http.Request) string { return MasterOwner }))
	r.Get("/slave/{id}/files/read.json", s.handleRead(func(r *http.Request) string { return chi.URLParam(r, "id") }))

	s.Server = httptest.NewServer(r)
	return s
}

func key(owner, path string) string {
	return owner + ":" + path
}

// SetFile replaces a file's contents.
func (s *Server) SetFile(owner, path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key(owner, path)] = append([]byte(nil), data...)
}

// Append grows a file.
func (s *Server) Append(owner, path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key(owner, path)] = append(s.files[key(owner, path)], data...)
}

// FailNext makes the next n reads of a file answer 503.
func (s *Server) FailNext(owner, path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key(owner, path)] = n
}

// SetPageSize caps how many bytes a single ranged read returns.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// SetPublicIP sets PUBLIC_IPV4 in the metadata document.
func (s *Server) SetPublicIP(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publicIP = ip
}

// RequireToken makes every endpoint demand Authorization: token=<token>.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// AddSlave registers a slave in the state summary.
func (s *Server) AddSlave(id, pid, hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slaves = append(s.slaves, map[string]interface{}{
		"id":       id,
		"pid":      pid,
		"hostname": hostname,
		"active":   true,
	})
}

// Requests returns how many requests the server has handled.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		token := s.token
		s.mu.Unlock()

		if token != "" && r.Header.Get("Authorization") != "token="+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeRead answers files/read.json. The data bytes are written into the JSON
// string as they are, so content that is not valid UTF-8 reaches the client
// unchanged.
func writeRead(w http.ResponseWriter, data []byte, offset int64) {
	var b bytes.Buffer
	b.WriteString(`{"data":"`)
	for _, c := range data {
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c < 0x20:
			fmt.Fprintf(&b, `\u%04x`, c)
		default:
			b.WriteByte(c)
		}
	}
	fmt.Fprintf(&b, `","offset":%d}`, offset)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b.Bytes())
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ip := s.publicIP
	s.mu.Unlock()
	writeJSON(w, map[string]string{"PUBLIC_IPV4": ip, "CLUSTER_ID": "fake-cluster"})
}

func (s *Server) handleStateSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	slaves := append([]map[string]interface{}{}, s.slaves...)
	s.mu.Unlock()
	writeJSON(w, map[string]interface{}{"slaves": slaves})
}

func (s *Server) handleRead(owner func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		k := key(owner(r), q.Get("path"))

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.failures[k] > 0 {
			s.failures[k]--
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		data, ok := s.files[k]
		if !ok {
			http.NotFound(w, r)
			return
		}

		offset, err := strconv.ParseInt(q.Get("offset"), 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("bad offset: %v", err), http.StatusBadRequest)
			return
		}
		if offset == -1 {
			writeRead(w, nil, int64(len(data)))
			return
		}

		length, err := strconv.ParseInt(q.Get("length"), 10, 64)
		if err != nil || length < 0 {
			length = int64(len(data))
		}
		if s.pageSize > 0 && length > int64(s.pageSize) {
			length = int64(s.pageSize)
		}
		if offset > int64(len(data)) {
			offset = int64(len(data))
		}
		end := offset + length
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		writeRead(w, data[offset:end], offset)
	}
}
