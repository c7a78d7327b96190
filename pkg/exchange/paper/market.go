package paper

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"nakula/pkg/core"
)

// FetchTicker serves a best bid/ask snapshot after advancing the tape.
func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	if err := a.gate(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buildTicker(symbol), nil
}

// FetchOrderBook serves a synthetic book with the requested depth.
func (a *Adapter) FetchOrderBook(ctx context.Context, symbol string, depth int) (*core.OrderBook, error) {
	if err := a.gate(ctx); err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 10
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buildOrderBook(symbol, depth), nil
}

// FetchTrades serves up to limit synthetic prints, newest first.
func (a *Adapter) FetchTrades(ctx context.Context, symbol string, limit int) ([]core.Trade, error) {
	if err := a.gate(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	trades := make([]core.Trade, 0, limit)
	now := time.Now()
	for i := 0; i < limit; i++ {
		trade := a.buildTrade(symbol)
		trade.Timestamp = now.Add(-time.Duration(i) * 150 * time.Millisecond)
		trades = append(trades, *trade)
	}
	return trades, nil
}

// FetchKlines serves limit candles of the given interval ending now.
// Candles chain open to close so the series looks like one walk.
func (a *Adapter) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]core.Kline, error) {
	if err := a.gate(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	step, err := parseInterval(interval)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var walk apd.Decimal
	walk.Set(a.price(symbol))

	klines := make([]core.Kline, 0, limit)
	start := time.Now().Truncate(step).Add(-time.Duration(limit-1) * step)
	for i := 0; i < limit; i++ {
		kline := a.buildCandle(symbol, &walk, interval, start.Add(time.Duration(i)*step), step)
		klines = append(klines, *kline)
	}
	return klines, nil
}

// price returns the live price cell for a symbol, creating it on first
// use. Unseeded symbols start at a stable value derived from the name so
// repeated runs agree without configuration.
func (a *Adapter) price(symbol string) *apd.Decimal {
	if p, ok := a.prices[symbol]; ok {
		return p
	}
	h := fnv.New32a()
	h.Write([]byte(symbol))
	cents := int64(h.Sum32()%900000) + 10000
	p := apd.New(cents, -2)
	a.prices[symbol] = p
	return p
}

// step advances the tape for a symbol by a random move of up to twenty
// basis points and fills any resting order the new price crosses.
// Callers must hold a.mu.
func (a *Adapter) step(symbol string) *apd.Decimal {
	last := a.price(symbol)
	bps := a.rng.Int64N(41) - 20
	if bps != 0 {
		var delta apd.Decimal
		a.dctx.Mul(&delta, last, apd.New(bps, -4))
		a.dctx.Add(last, last, &delta)
	}
	a.crossResting(symbol, last)
	return last
}

func (a *Adapter) buildTicker(symbol string) *core.Ticker {
	last := a.step(symbol)

	var half apd.Decimal
	a.dctx.Mul(&half, last, apd.New(1, -4))

	ticker := &core.Ticker{Symbol: symbol, Timestamp: time.Now()}
	ticker.Last.Set(last)
	a.dctx.Sub(&ticker.Bid, last, &half)
	a.dctx.Add(&ticker.Ask, last, &half)
	a.dctx.Mul(&ticker.High, last, apd.New(101, -2))
	a.dctx.Mul(&ticker.Low, last, apd.New(99, -2))
	ticker.Volume.Set(apd.New(a.rng.Int64N(500000)+1000, -2))
	return ticker
}

func (a *Adapter) buildOrderBook(symbol string, depth int) *core.OrderBook {
	last := a.step(symbol)

	book := &core.OrderBook{
		Symbol:    symbol,
		Bids:      make([]core.OrderBookLevel, 0, depth),
		Asks:      make([]core.OrderBookLevel, 0, depth),
		Timestamp: time.Now(),
	}
	for i := 1; i <= depth; i++ {
		tick := apd.New(int64(i), -4)
		var offset apd.Decimal
		a.dctx.Mul(&offset, last, tick)

		var bid, ask core.OrderBookLevel
		a.dctx.Sub(&bid.Price, last, &offset)
		a.dctx.Add(&ask.Price, last, &offset)
		bid.Quantity.Set(apd.New(a.rng.Int64N(2000)+10, -3))
		ask.Quantity.Set(apd.New(a.rng.Int64N(2000)+10, -3))
		book.Bids = append(book.Bids, bid)
		book.Asks = append(book.Asks, ask)
	}
	return book
}

func (a *Adapter) buildTrade(symbol string) *core.Trade {
	last := a.step(symbol)

	side := core.SideBuy
	if a.rng.IntN(2) == 1 {
		side = core.SideSell
	}

	trade := &core.Trade{
		ID:        fmt.Sprintf("t-%d", a.tradeSeq.Add(1)),
		Symbol:    symbol,
		Side:      side,
		FeeAsset:  quoteAsset(symbol),
		Timestamp: time.Now(),
	}
	trade.Price.Set(last)
	trade.Quantity.Set(apd.New(a.rng.Int64N(500)+1, -3))

	var notional apd.Decimal
	a.dctx.Mul(&notional, &trade.Price, &trade.Quantity)
	a.dctx.Mul(&trade.Fee, &notional, apd.New(1, -3))
	return trade
}

// buildKline synthesizes the most recent candle for a stream frame.
func (a *Adapter) buildKline(symbol, interval string) (*core.Kline, error) {
	step, err := parseInterval(interval)
	if err != nil {
		return nil, err
	}
	var walk apd.Decimal
	walk.Set(a.step(symbol))
	return a.buildCandle(symbol, &walk, interval, time.Now().Truncate(step), step), nil
}

// buildCandle advances walk through one interval and shapes the result
// into a candle. The walk pointer carries continuity between candles.
func (a *Adapter) buildCandle(symbol string, walk *apd.Decimal, interval string, openTime time.Time, step time.Duration) *core.Kline {
	kline := &core.Kline{
		Symbol:    symbol,
		OpenTime:  openTime,
		CloseTime: openTime.Add(step),
		NumTrades: int64(a.rng.IntN(900) + 100),
	}
	kline.Open.Set(walk)

	bps := a.rng.Int64N(81) - 40
	if bps != 0 {
		var delta apd.Decimal
		a.dctx.Mul(&delta, walk, apd.New(bps, -4))
		a.dctx.Add(walk, walk, &delta)
	}
	kline.Close.Set(walk)

	high, low := &kline.Open, &kline.Close
	if kline.Open.Cmp(&kline.Close) < 0 {
		high, low = &kline.Close, &kline.Open
	}
	a.dctx.Mul(&kline.High, high, apd.New(1001, -3))
	a.dctx.Mul(&kline.Low, low, apd.New(999, -3))
	kline.Volume.Set(apd.New(a.rng.Int64N(100000)+500, -2))
	a.dctx.Mul(&kline.QuoteVolume, &kline.Volume, &kline.Close)
	return kline
}

// parseInterval understands compact interval notation: 30s, 1m, 4h, 1d, 1w.
func parseInterval(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	unit := time.Duration(0)
	switch interval[len(interval)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	return time.Duration(n) * unit, nil
}

// quoteAsset extracts the quote leg of a pair, USDT when the symbol has
// no separator.
func quoteAsset(symbol string) string {
	if _, quote, ok := strings.Cut(symbol, "/"); ok && quote != "" {
		return quote
	}
	return "USDT"
}
