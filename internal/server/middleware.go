package server

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/SJJC-Team/whooshing-vapor/internal/logger"
)

// statusRecorder observes the response so the middleware can log the
// outcome and detect protocol switches. Hijack passes through so upgrade
// handlers keep working.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	bytes    int64
	hijacked bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(p []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(p)
	sr.bytes += int64(n)
	return n, err
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		sr.hijacked = true
	}
	return conn, rw, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withMiddleware wraps the application handler with per-request
// bookkeeping: a request id is issued and recorded against the serving
// connection for correlation, protocol switches flip the connection's
// upgrade flag, and the completed request is access-logged.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()

		connID, onPipeline := ConnIDFromContext(r.Context())
		if onPipeline {
			s.reg.SetCurrentRequestID(connID, reqID)
		}
		w.Header().Set("X-Request-Id", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if onPipeline && (rec.hijacked || rec.status == http.StatusSwitchingProtocols) {
			s.reg.SetUpgraded(connID)
			s.log.Debug("connection upgraded", logger.LogFields{
				"conn_id":    uint64(connID),
				"request_id": reqID,
			})
		}

		s.log.Access(r.RemoteAddr, r.Method, r.URL.RequestURI(), rec.status, rec.bytes, time.Since(start), reqID)
	})
}
