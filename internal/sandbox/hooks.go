package sandbox

import (
	"net/http"
	"strings"
	"time"
)

// Request is one entry of the sandbox request log.
type Request struct {
	Method    string
	Path      string
	Status    int
	RequestID string
}

type injectedFailure struct {
	status int
}

func hookKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// FailNext makes the next request matching method and path answer status
// without reaching the handler. Calls queue up.
func (s *Server) FailNext(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hookKey(method, path)
	s.failures[key] = append(s.failures[key], injectedFailure{status: status})
}

// AfterNext runs fn once, right after the next request matching method and
// path has been handled and before its response is returned.
func (s *Server) AfterNext(method, path string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hookKey(method, path)
	s.after[key] = append(s.after[key], fn)
}

// Requests returns a copy of the request log.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// ResetRequests empties the request log.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func (s *Server) popFailure(key string) (injectedFailure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.failures[key]
	if len(queue) == 0 {
		return injectedFailure{}, false
	}
	s.failures[key] = queue[1:]
	return queue[0], true
}

func (s *Server) popAfter(key string) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.after[key]
	if len(queue) == 0 {
		return nil
	}
	s.after[key] = queue[1:]
	return queue[0]
}

func (s *Server) injectMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := hookKey(r.Method, r.URL.Path)
		if f, ok := s.popFailure(key); ok {
			writeError(w, f.status, "INJECTED_FAILURE", http.StatusText(f.status))
			return
		}
		next.ServeHTTP(w, r)
		if fn := s.popAfter(key); fn != nil {
			fn()
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(payload []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	return r.ResponseWriter.Write(payload)
}

func (s *Server) recordMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		status := recorder.statusCode
		if status == 0 {
			status = http.StatusOK
		}
		reqID := r.Header.Get("X-Request-ID")

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    status,
			RequestID: reqID,
		})
		s.mu.Unlock()

		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", reqID,
		}
		switch {
		case status >= 500:
			s.log.Error("sandbox request completed", fields...)
		case status >= 400:
			s.log.Warn("sandbox request completed", fields...)
		default:
			s.log.Debug("sandbox request completed", fields...)
		}
	})
}
