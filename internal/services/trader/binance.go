// Package trader implements spot order execution against the supported exchanges.
package trader

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/services/pricer"
)

const tradeHistoryLimit = 1000

// BinanceTrader is a spot exchange adapter for Binance.
type BinanceTrader struct {
	client *binance.Client
	pricer *pricer.BinancePricer
}

func NewBinanceTrader(client *binance.Client) *BinanceTrader {
	return &BinanceTrader{client: client, pricer: pricer.NewBinancePricer(client)}
}

func (t *BinanceTrader) GetTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error) {
	ticker, err := t.pricer.GetTicker(ctx, pair)
	if err != nil {
		return domain.Ticker{}, errors.Wrapf(mapBinanceError(err), "failed to get binance book ticker for %s", pair.String())
	}
	return ticker, nil
}

func (t *BinanceTrader) PlaceMarketOrder(ctx context.Context, side domain.Side, pair domain.Pair, qty decimal.Decimal) (domain.OrderResult, error) {
	resp, err := t.client.NewCreateOrderService().Symbol(pair.Symbol()).
		Side(binanceSide(side)).Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return domain.OrderResult{}, errors.Wrapf(mapBinanceError(err), "failed to place binance market %s for %s", side, pair.String())
	}

	result := domain.OrderResult{ID: strconv.FormatInt(resp.OrderID, 10)}

	cost, filled := decimal.Zero, decimal.Zero
	for _, fill := range resp.Fills {
		price, err := decimal.NewFromString(fill.Price)
		if err != nil {
			return result, errors.Wrap(err, "failed to parse fill price")
		}
		q, err := decimal.NewFromString(fill.Quantity)
		if err != nil {
			return result, errors.Wrap(err, "failed to parse fill quantity")
		}
		cost = cost.Add(price.Mul(q))
		filled = filled.Add(q)
	}
	if filled.IsPositive() {
		result.FilledPrice = cost.Div(filled)
		result.FilledQuantity = filled
	}

	return result, nil
}

func (t *BinanceTrader) PlaceLimitOrder(ctx context.Context, side domain.Side, pair domain.Pair, qty, price decimal.Decimal) (domain.OrderResult, error) {
	resp, err := t.client.NewCreateOrderService().Symbol(pair.Symbol()).
		Side(binanceSide(side)).Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(qty.String()).
		Price(price.String()).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return domain.OrderResult{}, errors.Wrapf(mapBinanceError(err), "failed to place binance limit %s for %s", side, pair.String())
	}

	return domain.OrderResult{ID: strconv.FormatInt(resp.OrderID, 10)}, nil
}

func (t *BinanceTrader) CancelOrder(ctx context.Context, pair domain.Pair, orderID string) (bool, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, errors.Wrapf(err, "invalid binance order id %q", orderID)
	}

	_, err = t.client.NewCancelOrderService().Symbol(pair.Symbol()).OrderID(id).Do(ctx)
	if err != nil {
		return false, errors.Wrapf(mapBinanceError(err), "failed to cancel binance order %s", orderID)
	}

	return true, nil
}

func (t *BinanceTrader) OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.Order, error) {
	orders, err := t.client.NewListOpenOrdersService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(mapBinanceError(err), "failed to list binance open orders for %s", pair.String())
	}

	result := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse order price")
		}
		qty, err := decimal.NewFromString(o.OrigQuantity)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse order quantity")
		}
		side := domain.SideBuy
		if o.Side == binance.SideTypeSell {
			side = domain.SideSell
		}
		result = append(result, domain.Order{
			ID:       strconv.FormatInt(o.OrderID, 10),
			Side:     side,
			Price:    price,
			Quantity: qty,
		})
	}

	return result, nil
}

func (t *BinanceTrader) TradeHistory(ctx context.Context, pair domain.Pair) ([]domain.Trade, error) {
	trades, err := t.client.NewListTradesService().Symbol(pair.Symbol()).Limit(tradeHistoryLimit).Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(mapBinanceError(err), "failed to list binance trades for %s", pair.String())
	}

	result := make([]domain.Trade, 0, len(trades))
	for _, tr := range trades {
		price, err := decimal.NewFromString(tr.Price)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse trade price")
		}
		qty, err := decimal.NewFromString(tr.Quantity)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse trade quantity")
		}
		result = append(result, domain.Trade{
			ID:       strconv.FormatInt(tr.ID, 10),
			OrderID:  strconv.FormatInt(tr.OrderID, 10),
			Price:    price,
			Quantity: qty,
			Time:     time.UnixMilli(tr.Time),
		})
	}

	return result, nil
}

// OrderTrades reports the fill of one order as a single aggregated trade, or
// none when nothing has executed.
func (t *BinanceTrader) OrderTrades(ctx context.Context, pair domain.Pair, orderID string) ([]domain.Trade, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrInvalidParameter, "binance order id %q is not numeric", orderID)
	}

	order, err := t.client.NewGetOrderService().Symbol(pair.Symbol()).OrderID(id).Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(mapBinanceError(err), "failed to get binance order %s", orderID)
	}

	executed, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse executed quantity")
	}
	if !executed.IsPositive() {
		return nil, nil
	}
	quote, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse executed quote quantity")
	}

	return []domain.Trade{{
		ID:       "order-" + orderID,
		OrderID:  orderID,
		Price:    quote.Div(executed),
		Quantity: executed,
		Time:     time.UnixMilli(order.UpdateTime),
	}}, nil
}

func (t *BinanceTrader) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	account, err := t.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(mapBinanceError(err), "failed to get binance account balance")
	}

	balances := make(map[string]decimal.Decimal, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s balance", b.Asset)
		}
		if free.IsZero() {
			continue
		}
		balances[b.Asset] = free
	}

	return balances, nil
}

func (t *BinanceTrader) TradablePairs(ctx context.Context, pairs ...domain.Pair) (map[domain.Pair]domain.PairInfo, error) {
	result := make(map[domain.Pair]domain.PairInfo, len(pairs))
	for _, pair := range pairs {
		info, err := t.client.NewExchangeInfoService().Symbol(pair.Symbol()).Do(ctx)
		if err != nil {
			return nil, errors.Wrapf(mapBinanceError(err), "failed to get binance exchange info for %s", pair.String())
		}
		if len(info.Symbols) == 0 {
			return nil, errors.Errorf("binance does not list %s", pair.String())
		}

		symbol := info.Symbols[0]
		lot := symbol.LotSizeFilter()
		priceFilter := symbol.PriceFilter()
		if lot == nil || priceFilter == nil {
			return nil, errors.Errorf("binance exchange info for %s has no lot size or price filter", pair.String())
		}

		minQty, err := decimal.NewFromString(lot.MinQuantity)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse min quantity")
		}
		volumeDecimals, err := stepDecimals(lot.StepSize)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse step size")
		}
		priceDecimals, err := stepDecimals(priceFilter.TickSize)
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

func binanceSide(side domain.Side) binance.SideType {
	if side == domain.SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

// mapBinanceError translates Binance API error codes into domain errors.
func mapBinanceError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.Code {
	case -2010:
		if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
			return errors.Wrap(domain.ErrInsufficientFunds, apiErr.Message)
		}
		return errors.Wrap(domain.ErrInvalidVolume, apiErr.Message)
	case -1013, -1111:
		return errors.Wrap(domain.ErrInvalidVolume, apiErr.Message)
	case -1003, -1015:
		return errors.Wrap(domain.ErrRateLimited, apiErr.Message)
	case -2011, -2013:
		return errors.Wrap(domain.ErrOrderNotFound, apiErr.Message)
	default:
		return err
	}
}

// stepDecimals returns the number of decimals of an exchange step such as "0.00100000".
func stepDecimals(step string) (int32, error) {
	d, err := decimal.NewFromString(step)
	if err != nil {
		return 0, err
	}
	if !d.IsPositive() {
		return 0, errors.Errorf("step must be positive, got %s", step)
	}

	var places int32
	for !d.IsInteger() && places < 18 {
		d = d.Shift(1)
		places++
	}

	return places, nil
}

func newClientOrderID() string {
	return "dca" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
