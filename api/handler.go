package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ccabid/auction"
	"ccabid/bid"
	"ccabid/debug"
	"ccabid/engine"
	"ccabid/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gofrs/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoAuctionAddress = errors.New("no auction address")
	ErrInvalidRunID     = errors.New("invalid run ID")
	ErrInvalidLimit     = errors.New("limit must be a positive integer")
)

// StatusSource reports the live engine state. *engine.Consumer implements it.
type StatusSource interface {
	Status() engine.Status
}

var _ StatusSource = (*engine.Consumer)(nil)

// Handler is the read-only HTTP API of a running ccabid process.
type Handler struct {
	router  *mux.Router
	status  StatusSource
	stores  []store.Store
	auction common.Address
	logger  log.Logger
}

// NewHandler serves status from source and past runs from the first store.
// Every store is pinged by /-/ping.
func NewHandler(source StatusSource, auctionAddr common.Address, stores []store.Store, logger log.Logger) *Handler {
	h := &Handler{
		router:  mux.NewRouter(),
		status:  source,
		stores:  stores,
		auction: auctionAddr,
		logger:  logger,
	}

	h.router.Methods("GET").Path("/-/ping").HandlerFunc(h.handleGetPing)
	h.router.Methods("GET").Path("/-/panic").HandlerFunc(h.handleGetPanic)

	h.router.Methods("GET").Path("/v0/status").HandlerFunc(h.handleGetStatus)
	h.router.Methods("GET").Path("/v0/runs").HandlerFunc(h.handleListRuns)
	h.router.Methods("GET").Path("/v0/runs/{id}").HandlerFunc(h.handleGetRun)

	h.router.Use(
		debug.InstrumentMiddleware("api", logger),
		debug.GZipMiddleware,
		h.recoverMiddleware, // innermost, so 599s are still logged and counted
	)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

//
//
//

func (h *Handler) handleGetPing(w http.ResponseWriter, r *http.Request) {
	eg, ctx := errgroup.WithContext(r.Context())
	for _, s := range h.stores {
		s := s
		eg.Go(func() error { return s.Ping(ctx) })
	}

	if err := eg.Wait(); err != nil {
		h.respondError(w, r, fmt.Errorf("ping: %w", err), http.StatusInternalServerError)
		return
	}

	h.respondOK(w, r, struct{}{})
}

func (h *Handler) handleGetPanic(w http.ResponseWriter, r *http.Request) {
	level.Warn(h.logger).Log("msg", "panicking as requested")
	panic("requested panic")
}

//
//
//

type statusResponse struct {
	Phase      engine.Phase        `json:"phase"`
	Window     windowResponse      `json:"window"`
	Height     uint64              `json:"height"`
	Submitted  int                 `json:"submitted"`
	Failed     int                 `json:"failed"`
	Pending    int                 `json:"pending"`
	Bids       []bidResponse       `json:"bids"`
	Completion *completionResponse `json:"completion,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type windowResponse struct {
	ContributorPeriodEndBlock uint64 `json:"contributor_period_end_block"`
	EndBlock                  uint64 `json:"end_block"`
}

type bidResponse struct {
	bid.Outcome
	AmountEther string `json:"amount_eth"`
}

type completionResponse struct {
	Reason engine.ShutdownReason `json:"reason"`
	Height uint64                `json:"height"`
	Error  string                `json:"error,omitempty"`
}

func newStatusResponse(s engine.Status) statusResponse {
	resp := statusResponse{
		Phase:     s.Phase,
		Window:    newWindowResponse(s.Window),
		Height:    s.Height,
		Submitted: s.Summary.Submitted,
		Failed:    s.Summary.Failed,
		Pending:   s.Summary.Pending,
		Bids:      make([]bidResponse, 0, len(s.Summary.Outcomes)),
		UpdatedAt: s.UpdatedAt,
	}

	for _, o := range s.Summary.Outcomes {
		resp.Bids = append(resp.Bids, bidResponse{Outcome: o, AmountEther: engine.FormatEther(o.Amount)})
	}

	if c := s.Completion; c != nil {
		resp.Completion = &completionResponse{Reason: c.Reason, Height: c.Height}
		if c.Err != nil {
			resp.Completion.Error = c.Err.Error()
		}
	}

	return resp
}

func newWindowResponse(w auction.Window) windowResponse {
	return windowResponse{
		ContributorPeriodEndBlock: w.ContributorPeriodEndBlock,
		EndBlock:                  w.EndBlock,
	}
}

func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	h.respondOK(w, r, newStatusResponse(h.status.Status()))
}

//
//
//

func (h *Handler) runStore() (store.Store, error) {
	if len(h.stores) == 0 {
		return nil, fmt.Errorf("no run store configured: %w", store.ErrNotFound)
	}
	return h.stores[0], nil
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("auction")
	if addr == "" {
		addr = h.auction.Hex()
	}

	var (
		merr  *multierror.Error
		limit int
	)
	if !common.IsHexAddress(addr) {
		merr = multierror.Append(merr, fmt.Errorf("%q: %w", addr, ErrNoAuctionAddress))
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			merr = multierror.Append(merr, fmt.Errorf("%q: %w", v, ErrInvalidLimit))
		}
		limit = n
	}
	if err := merr.ErrorOrNil(); err != nil {
		h.respondError(w, r, fmt.Errorf("request invalid: %w", err), http.StatusBadRequest)
		return
	}

	s, err := h.runStore()
	if err != nil {
		h.respondError(w, r, err, http.StatusNotFound)
		return
	}

	runs, err := s.ListRuns(r.Context(), addr)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("list runs: %w", err), http.StatusInternalServerError)
		return
	}

	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:] // most recent
	}

	if runs == nil {
		runs = []*store.Run{}
	}

	h.respondOK(w, r, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: %v", ErrInvalidRunID, err), http.StatusBadRequest)
		return
	}

	s, err := h.runStore()
	if err != nil {
		h.respondError(w, r, err, http.StatusNotFound)
		return
	}

	run, err := s.SelectRun(r.Context(), id)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("select run %s: %w", id, err), http.StatusInternalServerError)
		return
	}

	h.respondOK(w, r, run)
}
