package dca

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// OpenPairsLister lists the pairs holding a position.
type OpenPairsLister interface {
	OpenPairs(ctx context.Context) ([]domain.Pair, error)
}

// WatchSet is the set of symbols processed each cycle: the configured watch
// list together with every pair that still holds a position. The union is
// recomputed at most once per refresh interval.
type WatchSet struct {
	store      OpenPairsLister
	configured map[domain.Pair]struct{}
	refresh    time.Duration
	now        func() time.Time

	mu        sync.Mutex
	pairs     []domain.Pair
	refreshed time.Time
}

func NewWatchSet(store OpenPairsLister, configured []domain.Pair, refresh time.Duration) *WatchSet {
	set := make(map[domain.Pair]struct{}, len(configured))
	for _, p := range configured {
		set[p] = struct{}{}
	}
	return &WatchSet{
		store:      store,
		configured: set,
		refresh:    refresh,
		now:        time.Now,
	}
}

// Pairs returns the symbols to process, refreshing the set when it is due.
// changed reports whether a refresh happened.
func (w *WatchSet) Pairs(ctx context.Context) (pairs []domain.Pair, changed bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pairs != nil && w.now().Sub(w.refreshed) < w.refresh {
		return append([]domain.Pair(nil), w.pairs...), false, nil
	}

	open, err := w.store.OpenPairs(ctx)
	if err != nil {
		if w.pairs != nil {
			return append([]domain.Pair(nil), w.pairs...), false, err
		}
		return nil, false, err
	}

	union := make(map[domain.Pair]struct{}, len(w.configured)+len(open))
	for p := range w.configured {
		union[p] = struct{}{}
	}
	for _, p := range open {
		union[p] = struct{}{}
	}

	result := make([]domain.Pair, 0, len(union))
	for p := range union {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].String() < result[j].String() })

	w.pairs = result
	w.refreshed = w.now()

	return append([]domain.Pair(nil), result...), true, nil
}

// AllowsEntry reports whether pair is on the configured watch list.
func (w *WatchSet) AllowsEntry(pair domain.Pair) bool {
	_, ok := w.configured[pair]
	return ok
}
