package fetcher

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const uniswapV3PoolABIJSON = `[{"inputs":[],"name":"slot0","outputs":[{"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},{"internalType":"int24","name":"tick","type":"int24"},{"internalType":"uint16","name":"observationIndex","type":"uint16"},{"internalType":"uint16","name":"observationCardinality","type":"uint16"},{"internalType":"uint16","name":"observationCardinalityNext","type":"uint16"},{"internalType":"uint8","name":"feeProtocol","type":"uint8"},{"internalType":"bool","name":"unlocked","type":"bool"}],"stateMutability":"view","type":"function"}]`

var (
	uniswapV3PoolABI abi.ABI
	q96              = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 96), 0)
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(uniswapV3PoolABIJSON))
	if err != nil {
		panic("failed to parse Uniswap V3 pool ABI: " + err.Error())
	}
	uniswapV3PoolABI = parsed
}

// OnchainOptions parameterise the pool price fetcher.
type OnchainOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Onchain reads Uniswap-V3 pool prices via Ethereum RPC.
type Onchain struct {
	opts      OnchainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOnchain builds a new pool price fetcher.
func NewOnchain(opts OnchainOptions, logger zerolog.Logger) *Onchain {
	return &Onchain{opts: opts, logger: logger.With().Str("component", "onchain_fetcher").Logger()}
}

// FetchPoolPrice reads slot0 of the given pool and converts sqrtPriceX96
// to a token1-per-token0 price, adjusted for token decimals.
func (o *Onchain) FetchPoolPrice(ctx context.Context, poolAddress string, decimals0, decimals1 int32) (float64, uint64, error) {
	if o.opts.RPCURL == "" {
		return 0, 0, errors.New("ethereum rpc url not configured")
	}
	if poolAddress == "" {
		return 0, 0, errors.New("pool address required")
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return 0, 0, err
	}

	addr := common.HexToAddress(poolAddress)
	payload, err := uniswapV3PoolABI.Pack("slot0")
	if err != nil {
		return 0, 0, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, 0, err
	}

	outputs, err := uniswapV3PoolABI.Unpack("slot0", res)
	if err != nil {
		return 0, 0, err
	}
	if len(outputs) == 0 {
		return 0, 0, errors.New("unexpected slot0 response")
	}

	sqrtPriceX96, ok := outputs[0].(*big.Int)
	if !ok {
		return 0, 0, errors.New("failed to decode sqrtPriceX96")
	}
	if sqrtPriceX96.Sign() <= 0 {
		return 0, 0, errors.New("pool reported non-positive sqrt price")
	}

	ratio := decimal.NewFromBigInt(sqrtPriceX96, 0).Div(q96)
	price := ratio.Mul(ratio).Shift(decimals0 - decimals1)

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, 0, err
	}

	return price.InexactFloat64(), blockNumber, nil
}

func (o *Onchain) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ PoolPriceFetcher = (*Onchain)(nil)
