package domain

import "time"

// Exclusions narrows every signal query: permanently flagged transaction ids,
// the 24h detected set, and addresses with active detections are all invisible
// to signal computation.
type Exclusions struct {
	TransactionIDs []uint
	Addresses      []string
}

// AddressTradeStats aggregates one account's buy/sell activity in a window.
type AddressTradeStats struct {
	Address    string
	BuyVolume  float64
	SellVolume float64
	TradeCount int
}

// SignalStore is the read-only query surface over persisted transactions,
// orders and price history. Implementations must treat read failures as
// ordinary errors; callers map them to neutral factors.
type SignalStore interface {
	// Order book and price series.
	PendingOrderDepth() (buy, sell float64, err error)
	PricesSince(since time.Time) ([]float64, error)
	// LastPrices returns up to n most recent prices, newest first.
	LastPrices(n int) ([]float64, error)
	LatestPricePoint() (*PricePoint, error)
	AppendPricePoint(p *PricePoint) error

	// Trade aggregates, exclusion-aware.
	CountTrades(since time.Time, excl Exclusions) (int64, error)
	CountUniqueTraders(since time.Time, excl Exclusions) (int64, error)
	TradeVolumeSince(since time.Time, excl Exclusions) (float64, error)
	AvgTradeSize(since time.Time, excl Exclusions) (float64, error)
	CountSmallTrades(since time.Time, maxSize float64, excl Exclusions) (int64, error)

	// Detection queries.
	TradeStatsByAddress(since time.Time, excl Exclusions) ([]AddressTradeStats, error)
	HighFrequencyTraders(since time.Time, minTrades int, excl Exclusions) ([]AddressTradeStats, error)
	SmallTraders(since time.Time, maxSize float64, minTrades int, excl Exclusions) ([]AddressTradeStats, error)
	TradeIDsByAddress(addr string, since time.Time) ([]uint, error)
	SmallTradeIDsByAddress(addr string, since time.Time, maxSize float64) ([]uint, error)

	// Supply-side signals.
	BurnedSince(since time.Time) (float64, error)
	MintedSince(since time.Time) (float64, error)
	LargeTrades(since time.Time) (trades []Transaction, avgSize float64, err error)
	WhaleConcentration(topN int) (float64, error)
}

// Snapshotter persists the two durable engine artifacts: the permanent
// flag set and the last computed price band.
type Snapshotter interface {
	SaveFlags(ids []uint) error
	LoadFlags() ([]uint, error)
	SaveState(band PriceBand, at time.Time) error
	LoadState() (PriceBand, bool, error)
}
