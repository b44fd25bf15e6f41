// Package debug serves the operator endpoints: pprof and Prometheus metrics.
// It also owns the HTTP middlewares shared with the status API.
package debug

import (
	"fmt"
	"html"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slices"
)

var profiles = []string{"goroutine", "threadcreate", "heap", "allocs", "block", "mutex"}

// NewHandler returns the debug server's handler.
func NewHandler(logger log.Logger) http.Handler {
	router := mux.NewRouter()
	router.StrictSlash(true)

	get := func(path string, h http.Handler) {
		router.Methods("GET").Path(path).Handler(h)
	}

	get("/debug/pprof/", http.HandlerFunc(pprof.Index))
	get("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
	get("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	get("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	get("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
	for _, name := range profiles {
		get("/debug/pprof/"+name, pprof.Handler(name))
	}
	get("/metrics", promhttp.Handler())
	get("/", indexHandler(router))

	// No duration metrics: scrapes of this server would dominate them.
	router.Use(InstrumentMiddleware("", logger), GZipMiddleware)

	return router
}

// indexHandler links every other route of r, grouped by first path segment.
func indexHandler(r *mux.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		groups := map[string][]string{}
		r.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
			path, _ := route.GetPathTemplate()
			if path == "" || path == "/" {
				return nil
			}
			group, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
			groups[group] = append(groups[group], path)
			return nil
		})

		names := make([]string, 0, len(groups))
		for name := range groups {
			names = append(names, name)
		}
		slices.Sort(names)

		w.Header().Set("content-type", "text/html; charset=utf-8")
		for _, name := range names {
			fmt.Fprintf(w, "<h1>%s</h1>\n<ul>\n", html.EscapeString(name))
			for _, path := range groups[name] {
				p := html.EscapeString(path)
				fmt.Fprintf(w, "<li><a href=\"%s\">%s</a></li>\n", p, p)
			}
			fmt.Fprint(w, "</ul>\n")
		}
	})
}
