// Package dca implements the safety order (dollar-cost averaging) position
// lifecycle: entering on a signal, laddering safety orders below the entry,
// keeping one take-profit sell in line with what has been bought, and closing
// the position when that sell fills.
package dca

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// Exchange is the spot exchange the orchestrators trade on.
type Exchange interface {
	GetTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error)
	PlaceMarketOrder(ctx context.Context, side domain.Side, pair domain.Pair, qty decimal.Decimal) (domain.OrderResult, error)
	PlaceLimitOrder(ctx context.Context, side domain.Side, pair domain.Pair, qty, price decimal.Decimal) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, pair domain.Pair, orderID string) (bool, error)
	OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.Order, error)
	TradeHistory(ctx context.Context, pair domain.Pair) ([]domain.Trade, error)
	// OrderTrades returns the executions of one order regardless of how far
	// back in the trade history they are.
	OrderTrades(ctx context.Context, pair domain.Pair, orderID string) ([]domain.Trade, error)
	Balances(ctx context.Context) (map[string]decimal.Decimal, error)
	TradablePairs(ctx context.Context, pairs ...domain.Pair) (map[domain.Pair]domain.PairInfo, error)
}

// Oracle decides whether a new position may be opened.
type Oracle interface {
	IsBuySignal(ctx context.Context, pair domain.Pair) (bool, error)
}

// PositionStore persists ladders and the orders placed from them.
type PositionStore interface {
	SaveLadder(ctx context.Context, l *domain.Ladder) error
	Ladder(ctx context.Context, pair domain.Pair) (*domain.Ladder, error)
	PendingRungs(ctx context.Context, pair domain.Pair, limit int) ([]domain.Rung, error)
	SkipRung(ctx context.Context, pair domain.Pair, number int) error
	RecordBuyOrder(ctx context.Context, o domain.BuyOrder) error
	UnfilledBuyOrders(ctx context.Context, pair domain.Pair) ([]domain.BuyOrder, error)
	CountBuyOrders(ctx context.Context, pair domain.Pair) (unfilled, filled int, err error)
	MarkBuyFilled(ctx context.Context, pair domain.Pair, orderID string) (bool, error)
	RetireBuyOrder(ctx context.Context, pair domain.Pair, orderID string, skip bool) error
	FilledRungs(ctx context.Context, pair domain.Pair) ([]int, error)
	ActiveSell(ctx context.Context, pair domain.Pair) (*domain.SellOrder, error)
	ReplaceActiveSell(ctx context.Context, pair domain.Pair, next *domain.SellOrder) error
	DeletePair(ctx context.Context, pair domain.Pair) error
}

// EntryFilter tells whether a flat symbol may open a new position.
type EntryFilter interface {
	AllowsEntry(pair domain.Pair) bool
}

// Deps are the collaborators of the orchestrators. Journal, Metrics and
// Entry are optional.
type Deps struct {
	Exchange Exchange
	Store    PositionStore
	Oracle   Oracle
	Pairs    *PairBook
	Journal  Journal
	Metrics  Recorder
	Entry    EntryFilter
}

// Settings are the strategy parameters shared by every symbol.
type Settings struct {
	Ladder        domain.LadderParams
	BaseOrderSize decimal.Decimal
	// ActiveMax caps the safety orders resting on the exchange at once.
	ActiveMax int
	// Nap is the pause between consecutive exchange calls of one symbol.
	Nap time.Duration
}

func (s Settings) Validate() error {
	if err := s.Ladder.Validate(); err != nil {
		return err
	}
	if !s.BaseOrderSize.IsPositive() {
		return errors.Wrapf(domain.ErrInvalidParameter, "base order size must be positive, got %s", s.BaseOrderSize)
	}
	if s.ActiveMax < 1 {
		return errors.Wrapf(domain.ErrInvalidParameter, "active safety orders must be >= 1, got %d", s.ActiveMax)
	}
	if s.Nap < 0 {
		return errors.Wrapf(domain.ErrInvalidParameter, "nap must not be negative, got %s", s.Nap)
	}
	return nil
}

// PairBook holds the trading rules of every pair the bot may trade.
type PairBook struct {
	mu    sync.RWMutex
	infos map[domain.Pair]domain.PairInfo
}

func NewPairBook(infos map[domain.Pair]domain.PairInfo) *PairBook {
	b := &PairBook{infos: make(map[domain.Pair]domain.PairInfo, len(infos))}
	b.Set(infos)
	return b
}

// Set merges infos into the book.
func (b *PairBook) Set(infos map[domain.Pair]domain.PairInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pair, info := range infos {
		b.infos[pair] = info
	}
}

func (b *PairBook) Get(pair domain.Pair) (domain.PairInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	info, ok := b.infos[pair]
	if !ok {
		return domain.PairInfo{}, errors.Errorf("no trading rules loaded for %s", pair.String())
	}
	return info, nil
}

// Missing returns the pairs without trading rules.
func (b *PairBook) Missing(pairs []domain.Pair) []domain.Pair {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var missing []domain.Pair
	for _, p := range pairs {
		if _, ok := b.infos[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// nap pauses between exchange calls. It returns early with ctx's error.
func nap(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
