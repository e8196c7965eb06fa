package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"lp-pnl/internal/engine"
)

const (
	positionsPath    = "/lp/userPositions"
	transactionsPath = "/lp/positionTransactions"

	defaultPageSize = 100
)

// KrystalOptions parameterise the indexer client.
type KrystalOptions struct {
	BaseURL           string
	Addresses         []string
	ChainIDs          []string
	PageSize          int
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	MaxRetries        uint
}

// Krystal fetches LP positions and their transaction history from the
// Krystal indexer API.
type Krystal struct {
	opts    KrystalOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewKrystal constructs an indexer client.
func NewKrystal(opts KrystalOptions, logger zerolog.Logger) *Krystal {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 4
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 4
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.krystal.app/all/v1"
	}

	return &Krystal{
		opts:    opts,
		logger:  logger.With().Str("component", "krystal_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		baseURL: baseURL,
	}
}

// FetchPositions pages through lp/userPositions for the configured wallets
// and returns every position with the given status.
func (k *Krystal) FetchPositions(ctx context.Context, status string) ([]engine.PositionSnapshot, error) {
	if len(k.opts.Addresses) == 0 {
		return nil, fmt.Errorf("no wallet addresses configured")
	}

	var snaps []engine.PositionSnapshot
	offset := 0
	for {
		params := url.Values{}
		params.Set("addresses", strings.Join(k.opts.Addresses, ","))
		params.Set("chainIds", strings.Join(k.opts.ChainIDs, ","))
		params.Set("positionStatus", status)
		params.Set("limit", strconv.Itoa(k.opts.PageSize))
		params.Set("offset", strconv.Itoa(offset))

		var page positionsResponse
		if err := k.getJSON(ctx, positionsPath, params, &page); err != nil {
			return nil, fmt.Errorf("fetch positions (offset %d): %w", offset, err)
		}
		if len(page.Positions) == 0 {
			break
		}
		for _, pos := range page.Positions {
			snaps = append(snaps, pos.snapshot())
		}
		if len(page.Positions) < k.opts.PageSize {
			break
		}
		offset += k.opts.PageSize
	}

	k.logger.Debug().Str("status", status).Int("positions", len(snaps)).Msg("fetched positions")
	return snaps, nil
}

// FetchEvents retrieves the liquidity transactions of one position, mapped
// to the engine's event variants in arrival order.
func (k *Krystal) FetchEvents(ctx context.Context, snap engine.PositionSnapshot) ([]engine.PositionEvent, error) {
	params := url.Values{}
	params.Set("wallet", snap.Key.Account)
	params.Set("poolAddress", snap.Key.Pool)
	params.Set("tokenId", snap.TokenID)

	var resp transactionsResponse
	if err := k.getJSON(ctx, transactionsPath, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch transactions for %s: %w", snap.TokenID, err)
	}

	events := make([]engine.PositionEvent, 0, len(resp.Transactions))
	for i, tx := range resp.Transactions {
		kind, ok := eventKind(tx.Type)
		if !ok {
			k.logger.Debug().Str("type", tx.Type).Str("token_id", snap.TokenID).Msg("skipping unrecognised transaction type")
			continue
		}

		ev := engine.PositionEvent{
			Kind:      kind,
			Timestamp: time.Unix(tx.Timestamp, 0).UTC(),
			Seq:       i,
		}
		// Single-sided transactions are common for out-of-range positions;
		// match legs by token address so a lone quote-token amount is not
		// mistaken for the base leg.
		for j, amt := range tx.Amounts {
			quoteLeg := strings.EqualFold(amt.Token.Address, snap.TokenBAddress)
			if snap.TokenBAddress == "" {
				quoteLeg = j == 1
			}
			if quoteLeg {
				ev.AmountYRaw = amt.Balance
				ev.DecimalsY = amt.Token.Decimals
				ev.ValueYUSD = amt.ValueUSD
				ev.QuotePriceUSD = amt.Token.Price
			} else {
				ev.AmountXRaw = amt.Balance
				ev.DecimalsX = amt.Token.Decimals
				ev.ValueXUSD = amt.ValueUSD
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

// getJSON performs one rate-limited GET with retries. Server-side errors
// and 429 are retried with exponential backoff; everything else is
// permanent.
func (k *Krystal) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := k.baseURL + path + "?" + params.Encode()

	op := func() ([]byte, error) {
		if err := k.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if ua := strings.TrimSpace(k.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		}

		resp, err := k.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return payload, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("krystal api error (%d)", resp.StatusCode)
		default:
			return nil, backoff.Permanent(fmt.Errorf("krystal api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload))))
		}
	}

	payload, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(k.opts.MaxRetries),
	)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}

func eventKind(txType string) (engine.EventKind, bool) {
	switch strings.ToUpper(txType) {
	case "ADD_LIQUIDITY", "INCREASE_LIQUIDITY":
		return engine.EventDeposit, true
	case "REMOVE_LIQUIDITY", "DECREASE_LIQUIDITY":
		return engine.EventWithdrawal, true
	case "COLLECT_FEE", "CLAIM_FEE":
		return engine.EventFeeClaim, true
	default:
		return 0, false
	}
}

type krystalToken struct {
	Address  string          `json:"address"`
	Symbol   string          `json:"symbol"`
	Decimals int32           `json:"decimals"`
	Price    decimal.Decimal `json:"price"`
}

type krystalAmount struct {
	Token    krystalToken    `json:"token"`
	Balance  decimal.Decimal `json:"balance"`
	ValueUSD decimal.Decimal `json:"valueUsd"`
}

type krystalPool struct {
	PoolAddress string  `json:"poolAddress"`
	Price       float64 `json:"price"`
}

type krystalPosition struct {
	ChainName    string  `json:"chainName"`
	UserAddress  string  `json:"userAddress"`
	TokenAddress string  `json:"tokenAddress"`
	TokenID      string  `json:"tokenId"`
	MinPrice     float64 `json:"minPrice"`
	MaxPrice     float64 `json:"maxPrice"`
	Status       string  `json:"status"`

	CurrentAmounts  []krystalAmount `json:"currentAmounts"`
	ProvidedAmounts []krystalAmount `json:"providedAmounts"`
	FeePending      []krystalAmount `json:"feePending"`
	FeesClaimed     []krystalAmount `json:"feesClaimed"`

	Pool krystalPool `json:"pool"`

	InitialUnderlyingValue decimal.Decimal `json:"initialUnderlyingValue"`
	CurrentUnderlyingValue decimal.Decimal `json:"currentUnderlyingValue"`
	TotalDepositValue      decimal.Decimal `json:"totalDepositValue"`
	TotalWithdrawValue     decimal.Decimal `json:"totalWithdrawValue"`

	CreatedTime int64 `json:"createdTime"`
	ClosedTime  int64 `json:"closedTime"`
}

type positionsResponse struct {
	Positions []krystalPosition `json:"positions"`
}

type krystalTransaction struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Amounts   []krystalAmount `json:"amounts"`
}

type transactionsResponse struct {
	Transactions []krystalTransaction `json:"transactions"`
}

// scaledToken is one of the two token slots of an amounts array with the
// raw balance already scaled by the token's decimals.
type scaledToken struct {
	Address  string
	Symbol   string
	Decimals int32
	Amount   decimal.Decimal
	Price    decimal.Decimal
}

// twoTokens guarantees exactly two slots; a missing slot is zero-valued.
func twoTokens(arr []krystalAmount) (scaledToken, scaledToken) {
	var out [2]scaledToken
	for i := 0; i < 2 && i < len(arr); i++ {
		out[i] = scaledToken{
			Address:  arr[i].Token.Address,
			Symbol:   arr[i].Token.Symbol,
			Decimals: arr[i].Token.Decimals,
			Amount:   arr[i].Balance.Shift(-arr[i].Token.Decimals),
			Price:    arr[i].Token.Price,
		}
	}
	return out[0], out[1]
}

func (p krystalPosition) snapshot() engine.PositionSnapshot {
	curA, curB := twoTokens(p.CurrentAmounts)
	provA, provB := twoTokens(p.ProvidedAmounts)
	pendA, pendB := twoTokens(p.FeePending)
	claimA, claimB := twoTokens(p.FeesClaimed)

	snap := engine.PositionSnapshot{
		Key: engine.PositionKey{
			Chain:   p.ChainName,
			Pool:    p.Pool.PoolAddress,
			Account: p.UserAddress,
		},
		TokenID: p.TokenID,

		TokenASymbol:   curA.Symbol,
		TokenBSymbol:   curB.Symbol,
		TokenAAddress:  curA.Address,
		TokenBAddress:  curB.Address,
		TokenADecimals: curA.Decimals,
		TokenBDecimals: curB.Decimals,

		MinPrice:  p.MinPrice,
		MaxPrice:  p.MaxPrice,
		PoolPrice: p.Pool.Price,

		TokenAPrice: curA.Price,
		TokenBPrice: curB.Price,

		TokenAProvided: provA.Amount,
		TokenBProvided: provB.Amount,
		TokenACurrent:  curA.Amount,
		TokenBCurrent:  curB.Amount,

		TokenAFeePending:  pendA.Amount,
		TokenBFeePending:  pendB.Amount,
		TokenAFeesClaimed: claimA.Amount,
		TokenBFeesClaimed: claimB.Amount,

		InitialValue:       p.InitialUnderlyingValue,
		CurrentValue:       p.CurrentUnderlyingValue,
		TotalDepositValue:  p.TotalDepositValue,
		TotalWithdrawValue: p.TotalWithdrawValue,

		Status: p.Status,
	}

	// Closed positions sometimes report token identity and prices only
	// under the provided amounts.
	if snap.TokenASymbol == "" {
		snap.TokenASymbol, snap.TokenAAddress, snap.TokenADecimals = provA.Symbol, provA.Address, provA.Decimals
	}
	if snap.TokenBSymbol == "" {
		snap.TokenBSymbol, snap.TokenBAddress, snap.TokenBDecimals = provB.Symbol, provB.Address, provB.Decimals
	}
	if snap.TokenAPrice.Sign() <= 0 {
		snap.TokenAPrice = provA.Price
	}
	if snap.TokenBPrice.Sign() <= 0 {
		snap.TokenBPrice = provB.Price
	}

	if p.CreatedTime > 0 {
		snap.CreatedAt = time.Unix(p.CreatedTime, 0).UTC()
	}
	if p.ClosedTime > 0 {
		snap.ClosedAt = time.Unix(p.ClosedTime, 0).UTC()
	}
	return snap
}

var (
	_ PositionSource = (*Krystal)(nil)
	_ EventSource    = (*Krystal)(nil)
)
