package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"ccabid/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
)

// EthChain implements Chain against a JSON-RPC node.
type EthChain struct {
	rpc     *rpc.Client
	client  *ethclient.Client
	geth    *gethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	stream  bool
	polling PollingOptions
	logger  log.Logger
}

var _ Chain = (*EthChain)(nil)

// Dial connects to rawurl. Websocket and IPC endpoints produce heads via
// subscription; HTTP endpoints are polled. Options are passed to the RPC
// client, e.g. rpc.WithHTTPClient.
func Dial(ctx context.Context, rawurl string, key *ecdsa.PrivateKey, polling PollingOptions, logger log.Logger, options ...rpc.ClientOption) (*EthChain, error) {
	stream, err := isStreamingURL(rawurl)
	if err != nil {
		return nil, err
	}

	rc, err := rpc.DialOptions(ctx, rawurl, options...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", redactURL(rawurl), err)
	}

	client := ethclient.NewClient(rc)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("fetch chain ID: %w", err)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)

	level.Debug(logger).Log("msg", "connected", "url", redactURL(rawurl), "chain_id", chainID, "sender", from, "streaming", stream)

	return &EthChain{
		rpc:     rc,
		client:  client,
		geth:    gethclient.New(rc),
		key:     key,
		from:    from,
		chainID: chainID,
		stream:  stream,
		polling: polling,
		logger:  logger,
	}, nil
}

func (c *EthChain) Close() {
	c.rpc.Close()
}

func (c *EthChain) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *EthChain) Sender() common.Address {
	return c.from
}

func (c *EthChain) BatchCall(ctx context.Context, msgs []ethereum.CallMsg) ([][]byte, error) {
	defer func(begin time.Time) { metrics.OpWait("eth_call_batch", time.Since(begin)) }(time.Now())

	var (
		results = make([]hexutil.Bytes, len(msgs))
		elems   = make([]rpc.BatchElem, len(msgs))
	)
	for i, msg := range msgs {
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []any{toCallArg(msg), "latest"},
			Result: &results[i],
		}
	}

	if err := c.rpc.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("batch call: %w", err)
	}

	out := make([][]byte, len(msgs))
	for i, elem := range elems {
		if elem.Error != nil {
			return nil, fmt.Errorf("batch call %d/%d: %w", i+1, len(elems), elem.Error)
		}
		out[i] = results[i]
	}
	return out, nil
}

func (c *EthChain) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	defer func(begin time.Time) { metrics.OpWait("eth_call", time.Since(begin)) }(time.Now())

	return c.client.CallContract(ctx, msg, nil)
}

func (c *EthChain) CreateAccessList(ctx context.Context, msg ethereum.CallMsg) (types.AccessList, error) {
	defer func(begin time.Time) { metrics.OpWait("eth_createAccessList", time.Since(begin)) }(time.Now())

	list, gas, vmErr, err := c.geth.CreateAccessList(ctx, msg)
	if err != nil {
		return nil, err
	}
	if vmErr != "" {
		return nil, fmt.Errorf("%w: %s", ErrReverted, vmErr)
	}
	if list == nil {
		list = &types.AccessList{}
	}

	level.Debug(c.logger).Log("msg", "access list generated", "entries", len(*list), "gas_used", gas)

	return *list, nil
}

func (c *EthChain) SendTransaction(ctx context.Context, msg ethereum.CallMsg) (*types.Transaction, error) {
	defer func(begin time.Time) { metrics.OpWait("eth_sendRawTransaction", time.Since(begin)) }(time.Now())

	msg.From = c.from

	var (
		nonce  uint64
		gas    = msg.Gas
		tip    = msg.GasTipCap
		feeCap = msg.GasFeeCap
	)
	{
		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() (err error) {
			nonce, err = c.client.PendingNonceAt(ctx, c.from)
			if err != nil {
				return fmt.Errorf("pending nonce: %w", err)
			}
			return nil
		})
		if gas == 0 {
			eg.Go(func() (err error) {
				gas, err = c.client.EstimateGas(ctx, msg)
				if err != nil {
					return fmt.Errorf("estimate gas: %w", err)
				}
				return nil
			})
		}
		if tip == nil {
			eg.Go(func() (err error) {
				tip, err = c.client.SuggestGasTipCap(ctx)
				if err != nil {
					return fmt.Errorf("suggest gas tip: %w", err)
				}
				return nil
			})
		}
		var baseFee *big.Int
		if feeCap == nil {
			eg.Go(func() error {
				h, err := c.client.HeaderByNumber(ctx, nil)
				if err != nil {
					return fmt.Errorf("latest header: %w", err)
				}
				if h.BaseFee == nil {
					return fmt.Errorf("latest header has no base fee")
				}
				baseFee = h.BaseFee
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		if feeCap == nil {
			feeCap = new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)
		}
	}

	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:    c.chainID,
		Nonce:      nonce,
		GasTipCap:  tip,
		GasFeeCap:  feeCap,
		Gas:        gas,
		To:         msg.To,
		Value:      value,
		Data:       msg.Data,
		AccessList: msg.AccessList,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	level.Debug(c.logger).Log("msg", "transaction sent", "tx", signed.Hash(), "nonce", nonce, "gas", gas, "tip", tip, "fee_cap", feeCap)

	return signed, nil
}

func (c *EthChain) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	defer func(begin time.Time) { metrics.OpWait("wait_mined", time.Since(begin)) }(time.Now())

	return bind.WaitMined(ctx, c.client, tx)
}

func (c *EthChain) Heads(ctx context.Context) (HeadSource, error) {
	if c.stream {
		return NewSubscriptionHeads(ctx, c.client, log.With(c.logger, "heads", "subscription"))
	}
	return NewPollingHeads(c.client, c.polling, log.With(c.logger, "heads", "polling")), nil
}

//
//
//

func toCallArg(msg ethereum.CallMsg) any {
	arg := map[string]any{
		"from": msg.From,
		"to":   msg.To,
	}
	if len(msg.Data) > 0 {
		arg["input"] = hexutil.Bytes(msg.Data)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	if msg.Gas != 0 {
		arg["gas"] = hexutil.Uint64(msg.Gas)
	}
	return arg
}

func isStreamingURL(rawurl string) (bool, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return false, fmt.Errorf("parse RPC URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return false, nil
	case "ws", "wss", "":
		return true, nil // empty scheme is an IPC path
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedURL, u.Scheme)
	}
}

func redactURL(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "<invalid>"
	}
	u.User = nil
	u.RawQuery = ""
	if u.Path != "" && u.Host != "" {
		u.Path = "/redacted"
	}
	return u.String()
}
