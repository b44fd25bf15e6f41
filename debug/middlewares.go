package debug

import (
	"net/http"
	"strconv"
	"time"

	"ccabid/metrics"

	"github.com/NYTimes/gziphandler"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
)

// GZipMiddleware compresses responses for clients that accept it.
func GZipMiddleware(next http.Handler) http.Handler {
	return gziphandler.GzipHandler(next)
}

// InstrumentMiddleware logs every request, at warn level for 5xx responses
// and debug level otherwise. With a non-empty server it also records the
// request duration under that server label.
func InstrumentMiddleware(server string, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			begin := time.Now()

			next.ServeHTTP(rec, r)

			took := time.Since(begin)
			route := routeLabel(r)
			status := rec.Status()

			if server != "" {
				metrics.HTTPRequestDurationSeconds.WithLabelValues(server, route, strconv.Itoa(status)).Observe(took.Seconds())
			}

			lvl := level.Debug
			if status >= http.StatusInternalServerError {
				lvl = level.Warn
			}
			lvl(logger).Log(
				"remote_addr", r.RemoteAddr,
				"route", route,
				"url", r.URL.String(),
				"code", status,
				"bytes", rec.bytes,
				"took", took.Truncate(time.Microsecond),
			)
		})
	}
}

// routeLabel prefers the mux route name, then its path template, so that
// path parameters do not blow up label cardinality. It only sees the route
// when the middleware is installed with mux.Router.Use.
func routeLabel(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.Method + " " + r.URL.Path
	}
	if name := route.GetName(); name != "" {
		return name
	}
	if tpl, err := route.GetPathTemplate(); err == nil && tpl != "" {
		return r.Method + " " + tpl
	}
	return r.Method + " " + r.URL.Path
}

// statusRecorder remembers the first status code and the body size.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(p)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}
