// Package submit turns a configured bid into a mined submitBid transaction.
package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"ccabid/auction"
	"ccabid/chain"
	"ccabid/contracts"
	"ccabid/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var (
	ErrReverted       = errors.New("transaction reverted")
	ErrInvalidFees    = errors.New("invalid fee overrides")
	ErrAccessListMode = errors.New("unknown access list mode")
)

// FeeOverrides replace the node's fee suggestions.
type FeeOverrides struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

type AccessListMode int

const (
	AccessListNone AccessListMode = iota
	AccessListProvided
	AccessListGenerate
)

func (m AccessListMode) String() string {
	switch m {
	case AccessListNone:
		return "none"
	case AccessListProvided:
		return "provided"
	case AccessListGenerate:
		return "generate"
	default:
		return fmt.Sprintf("AccessListMode(%d)", int(m))
	}
}

// AccessListConfig chooses whether transactions carry an access list, and
// where it comes from. List is only used with AccessListProvided.
type AccessListConfig struct {
	Mode AccessListMode
	List types.AccessList
}

// Config is optional transaction tuning. The zero value sends plain
// transactions with node-suggested fees.
type Config struct {
	Fees       *FeeOverrides
	AccessList AccessListConfig
}

func (c Config) Validate() error {
	if f := c.Fees; f != nil {
		switch {
		case f.MaxFeePerGas == nil || f.MaxPriorityFeePerGas == nil:
			return fmt.Errorf("%w: both max fee and max priority fee are required", ErrInvalidFees)
		case f.MaxPriorityFeePerGas.Cmp(f.MaxFeePerGas) > 0:
			return fmt.Errorf("%w: priority fee %v above max fee %v", ErrInvalidFees, f.MaxPriorityFeePerGas, f.MaxFeePerGas)
		}
	}
	switch c.AccessList.Mode {
	case AccessListNone, AccessListProvided, AccessListGenerate:
	default:
		return fmt.Errorf("%w: %v", ErrAccessListMode, c.AccessList.Mode)
	}
	return nil
}

//
//
//

// Pipeline runs the four submission steps for one bid attempt. Nothing is
// carried over between attempts.
type Pipeline struct {
	chain  chain.Chain
	client *auction.Client
	params auction.Params
	config Config
	logger log.Logger
}

func NewPipeline(c chain.Chain, client *auction.Client, params auction.Params, config Config, logger log.Logger) *Pipeline {
	return &Pipeline{
		chain:  c,
		client: client,
		params: params,
		config: config,
		logger: logger,
	}
}

// Submit runs Prepare, Build, Simulate and Send, stopping at the first error,
// and returns the hash of the mined transaction.
func (p *Pipeline) Submit(ctx context.Context, b auction.BidParams) (_ common.Hash, err error) {
	step := "prepare"
	defer func() {
		if err != nil {
			metrics.SubmitStepErrorsTotal.WithLabelValues(step).Inc()
		}
	}()

	sb, err := p.Prepare(ctx, b)
	if err != nil {
		return common.Hash{}, fmt.Errorf("prepare: %w", err)
	}
	level.Debug(p.logger).Log("msg", "prepared submit params", "prev_tick_price", sb.PrevTickPrice)

	step = "build"
	msg, err := p.Build(ctx, sb)
	if err != nil {
		return common.Hash{}, fmt.Errorf("build: %w", err)
	}
	level.Debug(p.logger).Log("msg", "built transaction request", "access_list_entries", len(msg.AccessList))

	step = "simulate"
	if err := p.Simulate(ctx, msg); err != nil {
		return common.Hash{}, fmt.Errorf("simulate: %w", err)
	}
	level.Debug(p.logger).Log("msg", "simulation succeeded")

	step = "send"
	hash, err := p.Send(ctx, msg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("send: %w", err)
	}

	return hash, nil
}

// Prepare resolves the insertion point for the bid's price against current
// chain state.
func (p *Pipeline) Prepare(ctx context.Context, b auction.BidParams) (auction.SubmitBidParams, error) {
	return p.client.PrepareSubmitBid(ctx, p.params, b)
}

// Build encodes the submitBid call, attaching the bid amount as value, and
// applies fee overrides and the access list.
func (p *Pipeline) Build(ctx context.Context, sb auction.SubmitBidParams) (ethereum.CallMsg, error) {
	data, err := contracts.PackSubmitBid(contracts.SubmitBidArgs{
		MaxPrice:      sb.MaxPrice,
		Amount:        sb.Amount,
		Owner:         sb.Owner,
		PrevTickPrice: sb.PrevTickPrice,
	})
	if err != nil {
		return ethereum.CallMsg{}, fmt.Errorf("encode submitBid: %w", err)
	}

	to := p.client.Addresses().CCA
	msg := ethereum.CallMsg{
		From:  p.chain.Sender(),
		To:    &to,
		Value: new(big.Int).Set(sb.Amount),
		Data:  data,
	}

	if f := p.config.Fees; f != nil {
		msg.GasFeeCap = new(big.Int).Set(f.MaxFeePerGas)
		msg.GasTipCap = new(big.Int).Set(f.MaxPriorityFeePerGas)
	}

	switch p.config.AccessList.Mode {
	case AccessListNone:
	case AccessListProvided:
		msg.AccessList = append(types.AccessList(nil), p.config.AccessList.List...)
	case AccessListGenerate:
		list, err := p.chain.CreateAccessList(ctx, msg)
		if err != nil {
			return ethereum.CallMsg{}, fmt.Errorf("generate access list: %w", err)
		}
		msg.AccessList = list
	default:
		return ethereum.CallMsg{}, fmt.Errorf("%w: %v", ErrAccessListMode, p.config.AccessList.Mode)
	}

	return msg, nil
}

// Simulate executes msg against the latest state without broadcasting it.
func (p *Pipeline) Simulate(ctx context.Context, msg ethereum.CallMsg) error {
	if _, err := p.chain.Call(ctx, msg); err != nil {
		return err
	}
	return nil
}

// Send broadcasts msg and waits for it to be mined. A mined transaction that
// reverted is an error.
func (p *Pipeline) Send(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	tx, err := p.chain.SendTransaction(ctx, msg)
	if err != nil {
		return common.Hash{}, err
	}

	level.Info(p.logger).Log("msg", "transaction sent, waiting to be mined", "tx", tx.Hash())

	begin := time.Now()
	receipt, err := p.chain.WaitMined(ctx, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wait for %s: %w", tx.Hash(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("%w: %s in block %v", ErrReverted, receipt.TxHash, receipt.BlockNumber)
	}

	level.Info(p.logger).Log("msg", "transaction mined", "tx", receipt.TxHash, "block", receipt.BlockNumber, "took", time.Since(begin).Truncate(time.Millisecond))

	return receipt.TxHash, nil
}
