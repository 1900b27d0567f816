// Package positions persists DCA positions: the safety order ladder of every open
// pair together with the buy and take-profit orders placed for it.
package positions

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// Store is a SQL backed position store. Every multi-row change runs in one
// transaction so a pair never ends up with two active sell orders.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the database and creates the schema.
func Open(driver, dsn string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s store", d.driver)
	}

	if d.driver == DriverSQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxIdleConns(8)
		db.SetMaxOpenConns(16)
		db.SetConnMaxLifetime(time.Minute)
	}

	s, err := New(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// New wraps an opened database and creates the schema.
func New(db *sql.DB, driver string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, dialect: d}
	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	for _, q := range s.dialect.schema {
		if _, err := s.db.Exec(q); err != nil {
			return errors.Wrapf(err, "failed to exec schema query %s", q)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return errors.Wrap(tx.Commit(), "commit transaction")
}

// SaveLadder stores a freshly computed ladder with all rungs pending.
func (s *Store) SaveLadder(ctx context.Context, l *domain.Ladder) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ladders WHERE symbol_pair = ?`, l.Pair.String()).Scan(&exists)
		if err != nil {
			return errors.Wrap(err, "check existing ladder")
		}
		if exists > 0 {
			return errors.Wrapf(domain.ErrInvariantViolation, "ladder for %s already exists", l.Pair.String())
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO ladders (symbol_pair, base_price, base_quantity, target_profit, price_decimals, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			l.Pair.String(), l.BasePrice, l.BaseQuantity, l.TargetProfit, l.PriceDecimals, l.CreatedAt.UnixMilli())
		if err != nil {
			return errors.Wrap(err, "insert ladder")
		}

		for _, r := range l.Rungs {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO safety_orders (symbol_pair, safety_order_no, deviation, quantity, total_quantity, price,
				 average_price, required_price, required_change, profit, status)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				l.Pair.String(), r.Number, r.Deviation, r.Quantity, r.CumulativeQuantity, r.Price,
				r.AveragePrice, r.RequiredPrice, r.RequiredChange, r.Profit, rungPending)
			if err != nil {
				return errors.Wrapf(err, "insert safety order %d", r.Number)
			}
		}

		return nil
	})
}

// Ladder returns the ladder of pair or nil when the pair has no open position.
func (s *Store) Ladder(ctx context.Context, pair domain.Pair) (*domain.Ladder, error) {
	l := &domain.Ladder{Pair: pair}
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT base_price, base_quantity, target_profit, price_decimals, created_at FROM ladders WHERE symbol_pair = ?`,
		pair.String()).Scan(&l.BasePrice, &l.BaseQuantity, &l.TargetProfit, &l.PriceDecimals, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load ladder of %s", pair.String())
	}
	l.CreatedAt = time.UnixMilli(createdAt).UTC()

	rungs, err := s.rungs(ctx, pair, "", -1)
	if err != nil {
		return nil, err
	}
	l.Rungs = rungs

	return l, nil
}

// PendingRungs returns up to limit rungs that were neither placed nor skipped,
// lowest rung number first.
func (s *Store) PendingRungs(ctx context.Context, pair domain.Pair, limit int) ([]domain.Rung, error) {
	return s.rungs(ctx, pair, rungPending, limit)
}

func (s *Store) rungs(ctx context.Context, pair domain.Pair, status string, limit int) ([]domain.Rung, error) {
	query := `SELECT safety_order_no, deviation, quantity, total_quantity, price, average_price, required_price,
		required_change, profit FROM safety_orders WHERE symbol_pair = ?`
	args := []any{pair.String()}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY safety_order_no ASC`
	if limit >= 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query safety orders of %s", pair.String())
	}
	defer rows.Close()

	var rungs []domain.Rung
	for rows.Next() {
		var r domain.Rung
		if err := rows.Scan(&r.Number, &r.Deviation, &r.Quantity, &r.CumulativeQuantity, &r.Price,
			&r.AveragePrice, &r.RequiredPrice, &r.RequiredChange, &r.Profit); err != nil {
			return nil, errors.Wrap(err, "scan safety order")
		}
		rungs = append(rungs, r)
	}

	return rungs, errors.Wrap(rows.Err(), "iterate safety orders")
}

// SkipRung excludes a rung from placement for the rest of the position.
func (s *Store) SkipRung(ctx context.Context, pair domain.Pair, number int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE safety_orders SET status = ? WHERE symbol_pair = ? AND safety_order_no = ? AND status = ?`,
		rungSkipped, pair.String(), number, rungPending)
	return errors.Wrapf(err, "skip safety order %d of %s", number, pair.String())
}

// RecordBuyOrder stores an accepted safety order and flags its rung as placed.
func (s *Store) RecordBuyOrder(ctx context.Context, o domain.BuyOrder) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE safety_orders SET status = ? WHERE symbol_pair = ? AND safety_order_no = ? AND status = ?`,
			rungPlaced, o.Pair.String(), o.RungNumber, rungPending)
		if err != nil {
			return errors.Wrap(err, "flag safety order placed")
		}
		if n, err := res.RowsAffected(); err == nil && n != 1 {
			return errors.Wrapf(domain.ErrInvariantViolation,
				"safety order %d of %s is not pending", o.RungNumber, o.Pair.String())
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO open_buy_orders (symbol_pair, safety_order_no, order_id, price, quantity, required_price, profit, filled)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			o.Pair.String(), o.RungNumber, o.OrderID, o.Price, o.Quantity, o.RequiredPrice, o.Profit, false)
		return errors.Wrap(err, "insert open buy order")
	})
}

// UnfilledBuyOrders returns placed safety orders that have not filled yet, lowest rung first.
func (s *Store) UnfilledBuyOrders(ctx context.Context, pair domain.Pair) ([]domain.BuyOrder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT safety_order_no, order_id, price, quantity, required_price, profit, filled
		 FROM open_buy_orders WHERE symbol_pair = ? AND filled = 0 ORDER BY safety_order_no ASC`,
		pair.String())
	if err != nil {
		return nil, errors.Wrapf(err, "query open buy orders of %s", pair.String())
	}
	defer rows.Close()

	var orders []domain.BuyOrder
	for rows.Next() {
		o := domain.BuyOrder{Pair: pair}
		if err := rows.Scan(&o.RungNumber, &o.OrderID, &o.Price, &o.Quantity, &o.RequiredPrice, &o.Profit, &o.Filled); err != nil {
			return nil, errors.Wrap(err, "scan open buy order")
		}
		orders = append(orders, o)
	}

	return orders, errors.Wrap(rows.Err(), "iterate open buy orders")
}

// CountBuyOrders returns the number of unfilled and filled safety orders of pair.
func (s *Store) CountBuyOrders(ctx context.Context, pair domain.Pair) (unfilled, filled int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN filled = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN filled = 0 THEN 0 ELSE 1 END), 0)
		 FROM open_buy_orders WHERE symbol_pair = ?`, pair.String()).Scan(&unfilled, &filled)
	return unfilled, filled, errors.Wrapf(err, "count buy orders of %s", pair.String())
}

// MarkBuyFilled flags a safety order as filled. It reports false when the
// order is unknown or already filled.
func (s *Store) MarkBuyFilled(ctx context.Context, pair domain.Pair, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE open_buy_orders SET filled = ? WHERE symbol_pair = ? AND order_id = ? AND filled = 0`,
		true, pair.String(), orderID)
	if err != nil {
		return false, errors.Wrapf(err, "mark buy order %s filled", orderID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

// RetireBuyOrder forgets an unfilled safety order the exchange no longer
// holds. Its rung goes back to pending, or to skipped when skip is set.
func (s *Store) RetireBuyOrder(ctx context.Context, pair domain.Pair, orderID string, skip bool) error {
	status := rungPending
	if skip {
		status = rungSkipped
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var number int
		err := tx.QueryRowContext(ctx,
			`SELECT safety_order_no FROM open_buy_orders WHERE symbol_pair = ? AND order_id = ? AND filled = 0`,
			pair.String(), orderID).Scan(&number)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(domain.ErrInvariantViolation,
				"buy order %s of %s is not an unfilled safety order", orderID, pair.String())
		}
		if err != nil {
			return errors.Wrapf(err, "find buy order %s", orderID)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM open_buy_orders WHERE symbol_pair = ? AND order_id = ?`,
			pair.String(), orderID); err != nil {
			return errors.Wrapf(err, "delete buy order %s", orderID)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE safety_orders SET status = ? WHERE symbol_pair = ? AND safety_order_no = ? AND status = ?`,
			status, pair.String(), number, rungPlaced)
		return errors.Wrapf(err, "release safety order %d", number)
	})
}

// FilledRungs returns the numbers of the filled safety orders of pair in ascending order.
func (s *Store) FilledRungs(ctx context.Context, pair domain.Pair) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT safety_order_no FROM open_buy_orders WHERE symbol_pair = ? AND filled = 1 ORDER BY safety_order_no ASC`,
		pair.String())
	if err != nil {
		return nil, errors.Wrapf(err, "query filled buy orders of %s", pair.String())
	}
	defer rows.Close()

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, errors.Wrap(err, "scan filled buy order")
		}
		numbers = append(numbers, n)
	}

	return numbers, errors.Wrap(rows.Err(), "iterate filled buy orders")
}

// ActiveSell returns the take-profit order that is neither cancelled nor filled, if any.
func (s *Store) ActiveSell(ctx context.Context, pair domain.Pair) (*domain.SellOrder, error) {
	o, err := scanSell(s.db.QueryRowContext(ctx,
		`SELECT safety_order_no, order_id, quantity, required_price, profit, cancelled, filled, created_at
		 FROM open_sell_orders WHERE symbol_pair = ? AND cancelled = 0 AND filled = 0`, pair.String()), pair)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load active sell order of %s", pair.String())
	}
	return o, nil
}

// ReplaceActiveSell cancels the active take-profit row of pair and, when next is
// not nil, inserts next as the new active row. Both happen in one transaction.
func (s *Store) ReplaceActiveSell(ctx context.Context, pair domain.Pair, next *domain.SellOrder) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var active int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM open_sell_orders WHERE symbol_pair = ? AND cancelled = 0 AND filled = 0`+s.dialect.forUpdate,
			pair.String()).Scan(&active)
		if err != nil {
			return errors.Wrap(err, "lock active sell order")
		}
		if active > 1 {
			return errors.Wrapf(domain.ErrInvariantViolation, "%d active sell orders for %s", active, pair.String())
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE open_sell_orders SET cancelled = ? WHERE symbol_pair = ? AND cancelled = 0 AND filled = 0`,
			true, pair.String())
		if err != nil {
			return errors.Wrap(err, "cancel active sell order")
		}

		if next == nil {
			return nil
		}

		createdAt := next.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO open_sell_orders (symbol_pair, safety_order_no, order_id, quantity, required_price, profit, cancelled, filled, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			pair.String(), next.RungNumber, next.OrderID, next.Quantity, next.RequiredPrice, next.Profit, false, false,
			createdAt.UnixMilli())
		return errors.Wrap(err, "insert sell order")
	})
}

// SellOrders returns every take-profit row of pair, oldest first.
func (s *Store) SellOrders(ctx context.Context, pair domain.Pair) ([]domain.SellOrder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT safety_order_no, order_id, quantity, required_price, profit, cancelled, filled, created_at
		 FROM open_sell_orders WHERE symbol_pair = ? ORDER BY id ASC`, pair.String())
	if err != nil {
		return nil, errors.Wrapf(err, "query sell orders of %s", pair.String())
	}
	defer rows.Close()

	var orders []domain.SellOrder
	for rows.Next() {
		o, err := scanSell(rows, pair)
		if err != nil {
			return nil, errors.Wrap(err, "scan sell order")
		}
		orders = append(orders, *o)
	}

	return orders, errors.Wrap(rows.Err(), "iterate sell orders")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSell(row scanner, pair domain.Pair) (*domain.SellOrder, error) {
	o := &domain.SellOrder{Pair: pair}
	var createdAt int64
	if err := row.Scan(&o.RungNumber, &o.OrderID, &o.Quantity, &o.RequiredPrice, &o.Profit,
		&o.Cancelled, &o.Filled, &createdAt); err != nil {
		return nil, err
	}
	o.CreatedAt = time.UnixMilli(createdAt).UTC()
	return o, nil
}

// DeletePair removes the ladder and every order row of pair.
func (s *Store) DeletePair(ctx context.Context, pair domain.Pair) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"open_sell_orders", "open_buy_orders", "safety_orders", "ladders"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE symbol_pair = ?`, pair.String()); err != nil {
				return errors.Wrapf(err, "delete %s of %s", table, pair.String())
			}
		}
		return nil
	})
}

// OpenPairs returns the pairs that currently hold a position.
func (s *Store) OpenPairs(ctx context.Context) ([]domain.Pair, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol_pair FROM ladders ORDER BY symbol_pair`)
	if err != nil {
		return nil, errors.Wrap(err, "query open pairs")
	}
	defer rows.Close()

	var pairs []domain.Pair
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan open pair")
		}
		pair, err := domain.ParsePair(raw)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}

	return pairs, errors.Wrap(rows.Err(), "iterate open pairs")
}

// Summary is a read model of one open position.
type Summary struct {
	Pair         string          `json:"pair"`
	BasePrice    decimal.Decimal `json:"base_price"`
	BaseQuantity decimal.Decimal `json:"base_quantity"`
	Rungs        int             `json:"safety_orders"`
	OpenBuys     int             `json:"open_buy_orders"`
	FilledBuys   int             `json:"filled_buy_orders"`
	SellQuantity decimal.Decimal `json:"sell_quantity"`
	SellPrice    decimal.Decimal `json:"sell_price"`
	SellOrderID  string          `json:"sell_order_id,omitempty"`
	OpenedAt     time.Time       `json:"opened_at"`
}

// Summaries returns a summary of every open position.
func (s *Store) Summaries(ctx context.Context) ([]Summary, error) {
	pairs, err := s.OpenPairs(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(pairs))
	for _, pair := range pairs {
		ladder, err := s.Ladder(ctx, pair)
		if err != nil {
			return nil, err
		}
		if ladder == nil {
			continue
		}
		unfilled, filled, err := s.CountBuyOrders(ctx, pair)
		if err != nil {
			return nil, err
		}
		sum := Summary{
			Pair:         pair.String(),
			BasePrice:    ladder.BasePrice,
			BaseQuantity: ladder.BaseQuantity,
			Rungs:        len(ladder.Rungs),
			OpenBuys:     unfilled,
			FilledBuys:   filled,
			OpenedAt:     ladder.CreatedAt,
		}
		sell, err := s.ActiveSell(ctx, pair)
		if err != nil {
			return nil, err
		}
		if sell != nil {
			sum.SellQuantity = sell.Quantity
			sum.SellPrice = sell.RequiredPrice
			sum.SellOrderID = sell.OrderID
		}
		summaries = append(summaries, sum)
	}

	return summaries, nil
}
