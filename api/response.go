package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ccabid/store"

	"github.com/go-kit/log/level"
)

// statusPanic is returned when a handler panics; it is distinct from every
// status a handler sets on purpose.
const statusPanic = 599

type errorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	StatusText string `json:"status_text"`
}

func (h *Handler) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				h.respondError(w, r, fmt.Errorf("panic: %v", v), statusPanic)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func (h *Handler) respondOK(w http.ResponseWriter, r *http.Request, v any) {
	if err := respondJSON(w, http.StatusOK, v); err != nil {
		level.Debug(h.logger).Log("msg", "write response", "path", r.URL.Path, "err", err)
	}
}

// respondError maps err to a status code, falling back to fallbackCode for
// errors that are not the client's fault. Only the latter are logged as
// errors.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error, fallbackCode int) {
	code, lvl := fallbackCode, level.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		code, lvl = http.StatusNotFound, level.Debug
	case errors.Is(err, ErrInvalidRunID), errors.Is(err, ErrNoAuctionAddress), errors.Is(err, ErrInvalidLimit):
		code, lvl = http.StatusBadRequest, level.Debug
	}

	lvl(h.logger).Log("method", r.Method, "path", r.URL.Path, "code", code, "err", err)

	if werr := respondJSON(w, code, errorResponse{
		Error:      err.Error(),
		StatusCode: code,
		StatusText: http.StatusText(code),
	}); werr != nil {
		level.Debug(h.logger).Log("msg", "write error response", "err", werr)
	}
}
