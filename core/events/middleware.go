package events

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// requestLogger logs method/path/status/duration with structured fields,
// modeled on the teacher's walletserver/middleware/logger.go bare
// logrus.Infof call, upgraded to WithFields since spec.md's ambient stack
// carries structured logging throughout (SPEC_FULL.md).
func requestLogger(log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   sw.status,
				"duration": time.Since(start),
			}).Info("request")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
