package trader

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/services/pricer"
)

// bybit spot market buys are sized in quote currency
const bybitQuoteDecimals = 2

// BybitTrader is a spot exchange adapter for Bybit V5 unified accounts.
type BybitTrader struct {
	client *bybit.Client
	pricer *pricer.BybitPricer
}

func NewBybitTrader(client *bybit.Client) *BybitTrader {
	return &BybitTrader{client: client, pricer: pricer.NewBybitPricer(client)}
}

func (t *BybitTrader) GetTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error) {
	ticker, err := t.pricer.GetTicker(ctx, pair)
	if err != nil {
		return domain.Ticker{}, errors.Wrapf(mapBybitError(err), "failed to get bybit ticker for %s", pair.String())
	}
	return ticker, nil
}

// PlaceMarketOrder buys or sells qty of the base asset. Bybit sizes spot market
// buys in quote currency, so the buy is converted at the current ask and the
// executed base quantity is read back from the execution list.
func (t *BybitTrader) PlaceMarketOrder(ctx context.Context, side domain.Side, pair domain.Pair, qty decimal.Decimal) (domain.OrderResult, error) {
	orderQty := qty
	if side == domain.SideBuy {
		ticker, err := t.GetTicker(ctx, pair)
		if err != nil {
			return domain.OrderResult{}, err
		}
		orderQty = qty.Mul(ticker.Ask).RoundCeil(bybitQuoteDecimals)
	}

	linkID := newClientOrderID()
	resp, err := t.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(pair.Symbol()),
		Side:        bybitSide(side),
		OrderType:   bybit.OrderTypeMarket,
		Qty:         orderQty.String(),
		OrderLinkID: &linkID,
	})
	if err != nil {
		return domain.OrderResult{}, errors.Wrapf(mapBybitError(err), "failed to place bybit market %s for %s", side, pair.String())
	}

	result := domain.OrderResult{ID: resp.Result.OrderID}

	trades, err := t.TradeHistory(ctx, pair)
	if err != nil {
		// the order went through, fill details are picked up on the next cycle
		return result, nil
	}
	price, filled := domain.AverageTradePrice(trades, result.ID)
	if filled.IsPositive() {
		result.FilledPrice = price
		result.FilledQuantity = filled
	}

	return result, nil
}

func (t *BybitTrader) PlaceLimitOrder(ctx context.Context, side domain.Side, pair domain.Pair, qty, price decimal.Decimal) (domain.OrderResult, error) {
	priceStr := price.String()
	linkID := newClientOrderID()
	resp, err := t.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(pair.Symbol()),
		Side:        bybitSide(side),
		OrderType:   bybit.OrderTypeLimit,
		Qty:         qty.String(),
		Price:       &priceStr,
		OrderLinkID: &linkID,
	})
	if err != nil {
		return domain.OrderResult{}, errors.Wrapf(mapBybitError(err), "failed to place bybit limit %s for %s", side, pair.String())
	}

	return domain.OrderResult{ID: resp.Result.OrderID}, nil
}

func (t *BybitTrader) CancelOrder(ctx context.Context, pair domain.Pair, orderID string) (bool, error) {
	_, err := t.client.V5().Order().CancelOrder(bybit.V5CancelOrderParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(pair.Symbol()),
		OrderID:  &orderID,
	})
	if err != nil {
		return false, errors.Wrapf(mapBybitError(err), "failed to cancel bybit order %s", orderID)
	}

	return true, nil
}

func (t *BybitTrader) OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.Order, error) {
	symbol := bybit.SymbolV5(pair.Symbol())
	resp, err := t.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return nil, errors.Wrapf(mapBybitError(err), "failed to list bybit open orders for %s", pair.String())
	}

	result := make([]domain.Order, 0, len(resp.Result.List))
	for _, o := range resp.Result.List {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse order price")
		}
		qty, err := decimal.NewFromString(o.Qty)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse order quantity")
		}
		side := domain.SideBuy
		if o.Side == bybit.SideSell {
			side = domain.SideSell
		}
		result = append(result, domain.Order{
			ID:       o.OrderID,
			Side:     side,
			Price:    price,
			Quantity: qty,
		})
	}

	return result, nil
}

func (t *BybitTrader) TradeHistory(ctx context.Context, pair domain.Pair) ([]domain.Trade, error) {
	return t.executions(pair, nil)
}

func (t *BybitTrader) OrderTrades(ctx context.Context, pair domain.Pair, orderID string) ([]domain.Trade, error) {
	return t.executions(pair, &orderID)
}

// executions lists the latest page of spot executions of pair, narrowed to
// one order when orderID is set.
func (t *BybitTrader) executions(pair domain.Pair, orderID *string) ([]domain.Trade, error) {
	symbol := bybit.SymbolV5(pair.Symbol())
	limit := 100
	resp, err := t.client.V5().Execution().GetExecutionList(bybit.V5GetExecutionParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
		OrderID:  orderID,
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(mapBybitError(err), "failed to list bybit executions for %s", pair.String())
	}

	result := make([]domain.Trade, 0, len(resp.Result.List))
	for _, e := range resp.Result.List {
		price, err := decimal.NewFromString(e.ExecPrice)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse execution price")
		}
		qty, err := decimal.NewFromString(e.ExecQty)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse execution quantity")
		}
		trade := domain.Trade{
			ID:       e.ExecID,
			OrderID:  e.OrderID,
			Price:    price,
			Quantity: qty,
		}
		if ms, err := strconv.ParseInt(e.ExecTime, 10, 64); err == nil {
			trade.Time = time.UnixMilli(ms)
		}
		result = append(result, trade)
	}

	return result, nil
}

func (t *BybitTrader) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	resp, err := t.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return nil, errors.Wrap(mapBybitError(err), "failed to get bybit wallet balance")
	}
	if len(resp.Result.List) == 0 {
		return nil, errors.New("bybit returned empty wallet balance")
	}

	balances := make(map[string]decimal.Decimal)
	for _, c := range resp.Result.List[0].Coin {
		if c.WalletBalance == "" {
			continue
		}
		balance, err := decimal.NewFromString(c.WalletBalance)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s balance", c.Coin)
		}
		if balance.IsZero() {
			continue
		}
		balances[string(c.Coin)] = balance
	}

	return balances, nil
}

func (t *BybitTrader) TradablePairs(ctx context.Context, pairs ...domain.Pair) (map[domain.Pair]domain.PairInfo, error) {
	result := make(map[domain.Pair]domain.PairInfo, len(pairs))
	for _, pair := range pairs {
		symbol := bybit.SymbolV5(pair.Symbol())
		resp, err := t.client.V5().Market().GetInstrumentsInfo(bybit.V5GetInstrumentsInfoParam{
			Category: bybit.CategoryV5Spot,
			Symbol:   &symbol,
		})
		if err != nil {
			return nil, errors.Wrapf(mapBybitError(err), "failed to get bybit instrument info for %s", pair.String())
		}
		if len(resp.Result.Spot.List) == 0 {
			return nil, errors.Errorf("bybit does not list %s", pair.String())
		}

		instrument := resp.Result.Spot.List[0]
		minQty, err := decimal.NewFromString(instrument.LotSizeFilter.MinOrderQty)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse min order quantity")
		}
		volumeDecimals, err := stepDecimals(instrument.LotSizeFilter.BasePrecision)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse base precision")
		}
		priceDecimals, err := stepDecimals(instrument.PriceFilter.TickSize)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse tick size")
		}

		result[pair] = domain.PairInfo{
			MinOrderQty:    minQty,
			PriceDecimals:  priceDecimals,
			VolumeDecimals: volumeDecimals,
		}
	}

	return result, nil
}

func bybitSide(side domain.Side) bybit.Side {
	if side == domain.SideSell {
		return bybit.SideSell
	}
	return bybit.SideBuy
}

// mapBybitError translates Bybit retCode/retMsg failures into domain errors.
func mapBybitError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient balance"), strings.Contains(msg, "170131"):
		return errors.Wrap(domain.ErrInsufficientFunds, err.Error())
	case strings.Contains(msg, "order quantity"), strings.Contains(msg, "too many decimals"),
		strings.Contains(msg, "170136"), strings.Contains(msg, "170137"), strings.Contains(msg, "170140"):
		return errors.Wrap(domain.ErrInvalidVolume, err.Error())
	case strings.Contains(msg, "too many visits"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "10006"):
		return errors.Wrap(domain.ErrRateLimited, err.Error())
	case strings.Contains(msg, "order does not exist"), strings.Contains(msg, "order not exists"),
		strings.Contains(msg, "170213"), strings.Contains(msg, "110001"):
		return errors.Wrap(domain.ErrOrderNotFound, err.Error())
	default:
		return err
	}
}
