package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"ccabid/api"
	"ccabid/auction"
	"ccabid/bid"
	"ccabid/build"
	"ccabid/chain"
	"ccabid/debug"
	"ccabid/engine"
	"ccabid/metrics"
	"ccabid/store"
	"ccabid/store/filestore"
	"ccabid/store/memstore"
	"ccabid/store/pgstore"
	"ccabid/submit"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v3"
	"github.com/shopspring/decimal"
)

const program = "ccabid"

// ErrUnresolved is returned when a run ends abnormally or with bids still
// pending.
var ErrUnresolved = errors.New("run ended unresolved")

func main() {
	err := exe(context.Background(), os.Stdout, os.Stderr, os.Args[1:])
	switch {
	case err == nil:
		os.Exit(0)
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case isSignalError(err):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func exe(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	envFile := os.Getenv("CCABID_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	fs := flag.NewFlagSet(program, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		rpcURL        = fs.String("rpc-url", "", "Ethereum JSON-RPC URL; ws://, wss:// or IPC path stream heads, http(s):// polls")
		privateKey    = fs.String("private-key", "", "hex secp256k1 private key of the bidding account")
		auctionAddr   = fs.String("auction-addr", "", "CCA auction contract address")
		hookAddr      = fs.String("hook-addr", "", "validation hook contract address")
		soulboundAddr = fs.String("soulbound-addr", "", "soulbound token contract address")
		bids          = flagStringList(fs, "bid", "bid as '<max_price_wei>:<amount>[:<owner>]', amount in wei or with an 'eth' suffix (repeatable)")
		maxRetries    = fs.Int("max-retries", 3, "attempts per bid before it is marked failed")
		maxFee        = fs.String("max-fee-per-gas", "", "EIP-1559 max fee per gas in wei (optional, needs -max-priority-fee-per-gas)")
		maxTip        = fs.String("max-priority-fee-per-gas", "", "EIP-1559 max priority fee per gas in wei (optional)")
		accessList    = fs.String("access-list", "none", "none, generate")
		accessFile    = fs.String("access-list-file", "", "JSON access list to attach to every bid (overrides -access-list)")
		snapToTick    = fs.Bool("snap-to-tick", false, "round bid prices to the nearest tick instead of rejecting them")
		requireSBT    = fs.Bool("require-soulbound", false, "refuse to start unless the signer holds a soulbound token")
		exitWhenDone  = fs.Bool("exit-when-done", false, "stop as soon as every bid is resolved, without waiting for the end block")
		pollInterval  = fs.Duration("poll-interval", 12*time.Second, "block polling interval for http(s) RPC URLs")
		storeConnStr  = fs.String("store-conn-str", "mem://", "run summary store, mem:// or postgres://")
		summaryDir    = fs.String("summary-dir", "", "if set, also write each run summary as JSON into this directory")
		apiAddr       = fs.String("api-addr", ":4411", "status API HTTP server address (empty to disable)")
		debugAddr     = fs.String("debug-addr", ":4412", "private debug HTTP server address (empty to disable)")
		version       = fs.Bool("version", false, "print version information and exit")
		logLevel      = fs.String("log-level", "info", "debug, info, warn, error")
		_             = fs.String("config", "", "config file")
	)
	if err := ff.Parse(fs, args,
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("CCABID"),
	); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	if *version {
		fmt.Fprintf(stdout, "%s version %s date %s\n", program, build.Version, build.Date)
		return nil
	}

	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(stderr)
		logger = level.NewFilter(logger, level.Allow(level.ParseDefault(*logLevel, level.InfoValue())))
	}

	level.Info(logger).Log("program", program, "build_version", build.Version, "build_date", build.Date)

	var (
		key   *ecdsa.PrivateKey
		addrs auction.Addresses
		txcfg submit.Config
	)
	{
		var merr *multierror.Error
		add := func(err error) { merr = multierror.Append(merr, err) }

		if *rpcURL == "" {
			add(errors.New("-rpc-url is required"))
		}

		k, err := parsePrivateKey(*privateKey)
		if err != nil {
			add(fmt.Errorf("-private-key: %w", err))
		}
		key = k

		for _, a := range []struct {
			name string
			val  string
			dst  *common.Address
		}{
			{"-auction-addr", *auctionAddr, &addrs.CCA},
			{"-hook-addr", *hookAddr, &addrs.Hook},
			{"-soulbound-addr", *soulboundAddr, &addrs.Soulbound},
		} {
			addr, err := parseAddress(a.val)
			if err != nil {
				add(fmt.Errorf("%s: %w", a.name, err))
				continue
			}
			*a.dst = addr
		}

		if len(bids.Get()) == 0 {
			add(errors.New("at least one -bid is required"))
		}

		if txcfg, err = parseTxConfig(*maxFee, *maxTip, *accessList, *accessFile); err != nil {
			add(err)
		}

		if err := merr.ErrorOrNil(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	signer := crypto.PubkeyToAddress(key.PublicKey)

	bidParams, err := parseBids(bids.Get(), signer)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var stores []namedStore
	{
		st, err := openStore(ctx, *storeConnStr, log.With(logger, "module", "store"))
		if err != nil {
			return err
		}
		stores = append(stores, namedStore{name: storeName(*storeConnStr), Store: st})

		if *summaryDir != "" {
			fst, err := filestore.NewStore(*summaryDir)
			if err != nil {
				return fmt.Errorf("create summary directory store: %w", err)
			}
			stores = append(stores, namedStore{name: "file", Store: fst})
		}

		defer func() {
			for _, s := range stores {
				if err := s.Close(); err != nil {
					level.Error(logger).Log("msg", "close store failed", "store", s.name, "err", err)
				}
			}
		}()
	}

	eth, err := chain.Dial(ctx, *rpcURL, key, chain.PollingOptions{Interval: *pollInterval}, log.With(logger, "module", "chain"))
	if err != nil {
		return fmt.Errorf("connect to chain: %w", err)
	}
	defer eth.Close()

	client := auction.NewClient(eth, addrs)

	params, err := client.LoadParams(ctx, signer)
	if err != nil {
		return fmt.Errorf("load auction parameters: %w", err)
	}

	level.Info(logger).Log(
		"msg", "auction loaded",
		"chain_id", eth.ChainID(),
		"auction", addrs.CCA,
		"signer", signer,
		"contributor_period_end_block", params.ContributorPeriodEndBlock,
		"end_block", params.EndBlock,
		"floor_price", params.FloorPrice,
		"tick_spacing", params.TickSpacing,
		"max_bid_price", params.MaxBidPrice,
		"total_purchased", params.TotalPurchased,
		"max_purchase_limit", params.MaxPurchaseLimit,
		"has_any_token", params.HasAnyToken,
	)

	metrics.RecordAuction(eth.ChainID().String(), addrs.CCA.Hex(), signer.Hex(), params.ContributorPeriodEndBlock, params.EndBlock)

	if *snapToTick {
		snapped := auction.SnapToTick(params, bidParams)
		for i := range snapped {
			if snapped[i].MaxPrice.Cmp(bidParams[i].MaxPrice) != 0 {
				level.Warn(logger).Log("msg", "bid price snapped to tick", "bid", i+1, "from", bidParams[i].MaxPrice, "to", snapped[i].MaxPrice)
			}
		}
		bidParams = snapped
	}

	var preflightOpts []auction.PreflightOption
	if *requireSBT {
		preflightOpts = append(preflightOpts, auction.RequireEligibility())
	}
	if err := auction.Preflight(params, bidParams, preflightOpts...); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}

	registry, err := bid.NewRegistry(params.Window(), bidParams, *maxRetries)
	if err != nil {
		return fmt.Errorf("create bid registry: %w", err)
	}

	pipeline := submit.NewPipeline(eth, client, params, txcfg, log.With(logger, "module", "submit"))

	consumer := engine.NewConsumer(registry, pipeline, engine.Options{
		StopWhenDone: *exitWhenDone,
		Settlement:   &engine.NopSettlement{Logger: log.With(logger, "module", "settlement")},
	}, log.With(logger, "module", "engine"))

	var (
		g          run.Group
		completion *engine.Completion
	)

	{
		logger := log.With(logger, "module", "engine")
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			heads, err := eth.Heads(ctx)
			if err != nil {
				return fmt.Errorf("open block stream: %w", err)
			}
			defer heads.Close()

			c := engine.Run(ctx, heads, consumer, logger)
			completion = &c
			return nil
		}, func(error) {
			cancel()
		})
	}

	if *apiAddr != "" {
		logger := log.With(logger, "module", "api")
		apiStores := make([]store.Store, len(stores))
		for i := range stores {
			apiStores[i] = stores[i].Store
		}
		handler := api.NewHandler(consumer, addrs.CCA, apiStores, logger)
		server := &http.Server{Handler: handler, Addr: *apiAddr}
		g.Add(func() error {
			level.Info(logger).Log("api_addr", *apiAddr)
			return server.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			server.Shutdown(ctx)
		})
	}

	if *debugAddr != "" {
		logger := log.With(logger, "module", "debug")
		server := &http.Server{Handler: debug.NewHandler(logger), Addr: *debugAddr}
		g.Add(func() error {
			level.Info(logger).Log("debug_addr", *debugAddr)
			return server.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			server.Shutdown(ctx)
		})
	}

	{
		g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))
	}

	level.Debug(logger).Log("msg", "running")

	runErr := g.Run()

	if completion == nil {
		c := consumer.Abort(engine.Interrupted, nil)
		completion = &c
	}

	engine.LogSummary(logger, *completion)

	recordRun(newRun(eth.ChainID(), addrs.CCA, signer, *completion), stores, logger)

	if reason := completion.Reason; reason.HasPending() || reason == engine.BlockStreamError {
		return fmt.Errorf("%w: %s", ErrUnresolved, reason)
	}

	return runErr
}

//
//
//

type namedStore struct {
	name string
	store.Store
}

// durable reports whether the store outlives the process.
func (s namedStore) durable() bool {
	return s.name != "memory"
}

// recordRun writes r to every durable store. The in-memory store only backs
// the API while the run is live, so writing the final summary there would
// be lost on exit.
func recordRun(r *store.Run, stores []namedStore, logger log.Logger) (recorded int) {
	var merr *multierror.Error
	for _, s := range stores {
		if !s.durable() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.Record(ctx, s, s.name, r); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", s.name, err))
		} else {
			recorded++
		}
		cancel()
	}

	switch err := merr.ErrorOrNil(); {
	case err != nil:
		level.Error(logger).Log("msg", "persist run summary failed", "err", err)
	case recorded == 0:
		level.Warn(logger).Log("msg", "run summary not persisted, set -summary-dir or a postgres -store-conn-str to keep it")
	default:
		level.Info(logger).Log("msg", "run summary recorded", "run_id", r.ID, "stores", recorded)
	}

	return recorded
}

func storeName(connStr string) string {
	if strings.HasPrefix(connStr, "postgres") {
		return "postgres"
	}
	return "memory"
}

func openStore(ctx context.Context, connStr string, logger log.Logger) (store.Store, error) {
	switch {
	case strings.HasPrefix(connStr, "postgres"):
		level.Info(logger).Log("store", "postgres")
		s, err := pgstore.NewStore(ctx, connStr, logger)
		if err != nil {
			return nil, fmt.Errorf("create Postgres store: %w", err)
		}
		return s, nil

	default:
		level.Info(logger).Log("store", "in-memory")
		return memstore.NewStore(), nil
	}
}

func newRun(chainID *big.Int, auctionAddr, signer common.Address, c engine.Completion) *store.Run {
	r := &store.Run{
		ChainID:        chainID.String(),
		AuctionAddress: auctionAddr.Hex(),
		Signer:         signer.Hex(),
		Reason:         c.Reason.String(),
		FinalBlock:     c.Height,
		Submitted:      c.Summary.Submitted,
		Failed:         c.Summary.Failed,
		Pending:        c.Summary.Pending,
	}
	if c.Err != nil {
		r.Error = c.Err.Error()
	}
	for _, o := range c.Summary.Outcomes {
		out := store.Outcome{
			Position:   o.Index,
			Owner:      o.Owner.Hex(),
			Amount:     o.Amount.String(),
			MaxPrice:   o.MaxPrice.String(),
			State:      o.State.String(),
			Attempts:   o.Attempts,
			MaxRetries: o.MaxRetries,
			Error:      o.Error,
		}
		if o.TxHash != nil {
			out.TxHash = o.TxHash.Hex()
		}
		r.Outcomes = append(r.Outcomes, out)
	}
	return r
}

//
//
//

func parsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	if s == "" {
		return nil, errors.New("required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, errors.New("not a valid hex private key")
	}
	return key, nil
}

func parseAddress(s string) (common.Address, error) {
	switch {
	case s == "":
		return common.Address{}, errors.New("required")
	case !common.IsHexAddress(s):
		return common.Address{}, fmt.Errorf("%q is not a hex address", s)
	default:
		return common.HexToAddress(s), nil
	}
}

// parseBids parses '<max_price_wei>:<amount>[:<owner>]' values. The owner
// defaults to the signer.
func parseBids(values []string, signer common.Address) ([]auction.BidParams, error) {
	bids := make([]auction.BidParams, 0, len(values))
	for i, v := range values {
		b, err := parseBid(v, signer)
		if err != nil {
			return nil, fmt.Errorf("bid #%d %q: %w", i+1, v, err)
		}
		bids = append(bids, b)
	}
	return bids, nil
}

func parseBid(s string, signer common.Address) (auction.BidParams, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return auction.BidParams{}, errors.New("want '<max_price_wei>:<amount>[:<owner>]'")
	}

	maxPrice, ok := new(big.Int).SetString(parts[0], 10)
	if !ok || maxPrice.Sign() < 0 {
		return auction.BidParams{}, fmt.Errorf("max price %q is not a non-negative integer", parts[0])
	}

	amount, err := parseWei(parts[1])
	if err != nil {
		return auction.BidParams{}, fmt.Errorf("amount: %w", err)
	}

	owner := signer
	if len(parts) == 3 {
		if owner, err = parseAddress(parts[2]); err != nil {
			return auction.BidParams{}, fmt.Errorf("owner: %w", err)
		}
	}

	return auction.BidParams{MaxPrice: maxPrice, Amount: amount, Owner: owner}, nil
}

// parseWei accepts an integer wei amount, or a decimal ether amount with an
// "eth" suffix, e.g. "0.25eth".
func parseWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(strings.ToLower(s))

	if eth, ok := strings.CutSuffix(s, "eth"); ok {
		d, err := decimal.NewFromString(strings.TrimSpace(eth))
		if err != nil {
			return nil, fmt.Errorf("%q is not a decimal ether amount", s)
		}
		wei := d.Shift(18)
		if !wei.Equal(wei.Truncate(0)) {
			return nil, fmt.Errorf("%q has more than 18 decimal places", s)
		}
		if wei.Sign() < 0 {
			return nil, fmt.Errorf("%q is negative", s)
		}
		return wei.BigInt(), nil
	}

	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%q is not a non-negative integer", s)
	}
	return n, nil
}

func parseTxConfig(maxFee, maxTip, accessList, accessFile string) (submit.Config, error) {
	var cfg submit.Config

	if maxFee != "" || maxTip != "" {
		fee, err := parseWei(maxFee)
		if err != nil {
			return cfg, fmt.Errorf("-max-fee-per-gas: %w", err)
		}
		tip, err := parseWei(maxTip)
		if err != nil {
			return cfg, fmt.Errorf("-max-priority-fee-per-gas: %w", err)
		}
		cfg.Fees = &submit.FeeOverrides{MaxFeePerGas: fee, MaxPriorityFeePerGas: tip}
	}

	switch {
	case accessFile != "":
		buf, err := os.ReadFile(accessFile)
		if err != nil {
			return cfg, fmt.Errorf("-access-list-file: %w", err)
		}
		var list types.AccessList
		if err := json.Unmarshal(buf, &list); err != nil {
			return cfg, fmt.Errorf("-access-list-file: decode: %w", err)
		}
		cfg.AccessList = submit.AccessListConfig{Mode: submit.AccessListProvided, List: list}

	case accessList == "" || accessList == "none":
		cfg.AccessList = submit.AccessListConfig{Mode: submit.AccessListNone}

	case accessList == "generate":
		cfg.AccessList = submit.AccessListConfig{Mode: submit.AccessListGenerate}

	default:
		return cfg, fmt.Errorf("-access-list: %q: %w", accessList, submit.ErrAccessListMode)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func isSignalError(err error) bool {
	var (
		sigErrVal run.SignalError
		sigErrPtr *run.SignalError
	)
	return errors.As(err, &sigErrVal) || errors.As(err, &sigErrPtr)
}

//
//
//

// stringList is a repeatable flag that keeps every value in order.
type stringList struct{ values []string }

var _ flag.Value = (*stringList)(nil)

func flagStringList(fs *flag.FlagSet, name string, usage string) *stringList {
	sl := &stringList{}
	fs.Var(sl, name, usage)
	return sl
}

func (sl *stringList) Set(value string) error {
	sl.values = append(sl.values, value)
	return nil
}

func (sl *stringList) String() string {
	switch len(sl.values) {
	case 0:
		return "<empty>"
	default:
		return strings.Join(sl.values, ", ")
	}
}

func (sl *stringList) Get() []string {
	return sl.values
}
