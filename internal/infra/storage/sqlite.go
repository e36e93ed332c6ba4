package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"parcmarket/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the sqlite-backed MarketSignalStore. The trading front-end owns
// the write side of transactions/orders/wallets; the engine only reads them
// and appends one price point per cycle.
type Store struct {
	db *gorm.DB
}

// NewStore opens (or creates) the market database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Pure Go sqlite driver
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&domain.Transaction{},
		&domain.Order{},
		&domain.Wallet{},
		&domain.PricePoint{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewMemoryStore opens an in-memory database, used by tests.
func NewMemoryStore() (*Store, error) {
	return NewStore(":memory:")
}

// ======================================================================================
// Write side (trading front-end)
// ======================================================================================

// CreateTransaction records a settled transfer.
func (s *Store) CreateTransaction(tx *domain.Transaction) error {
	return s.db.Create(tx).Error
}

// CreateOrder records a new resting order.
func (s *Store) CreateOrder(o *domain.Order) error {
	return s.db.Create(o).Error
}

// UpsertWallet creates or updates a wallet balance by address.
func (s *Store) UpsertWallet(w *domain.Wallet) error {
	var existing domain.Wallet
	err := s.db.Where("address = ?", w.Address).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return s.db.Create(w).Error
	}
	if err != nil {
		return err
	}
	existing.Balance = w.Balance
	return s.db.Save(&existing).Error
}

// tradeQuery is the shared base for every exclusion-aware trade aggregate:
// buy/sell transactions in the window minus flagged ids and addresses.
func (s *Store) tradeQuery(since time.Time, excl domain.Exclusions) *gorm.DB {
	q := s.db.Model(&domain.Transaction{}).
		Where("timestamp >= ?", since).
		Where("transaction_type IN ?", []string{domain.TxBuy, domain.TxSell})
	if len(excl.TransactionIDs) > 0 {
		q = q.Where("id NOT IN ?", excl.TransactionIDs)
	}
	if len(excl.Addresses) > 0 {
		q = q.Where("from_address NOT IN ?", excl.Addresses)
	}
	return q
}

// ======================================================================================
// Order book and price series
// ======================================================================================

// PendingOrderDepth sums the resting amounts on each side of the book.
func (s *Store) PendingOrderDepth() (float64, float64, error) {
	type row struct {
		Side  string
		Depth float64
	}
	var rows []row
	err := s.db.Model(&domain.Order{}).
		Select("side, COALESCE(SUM(amount), 0) AS depth").
		Where("status = ?", domain.OrderPending).
		Group("side").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}
	var buy, sell float64
	for _, r := range rows {
		switch r.Side {
		case domain.TxBuy:
			buy = r.Depth
		case domain.TxSell:
			sell = r.Depth
		}
	}
	return buy, sell, nil
}

// PricesSince returns prices in the window, oldest first.
func (s *Store) PricesSince(since time.Time) ([]float64, error) {
	var prices []float64
	err := s.db.Model(&domain.PricePoint{}).
		Where("timestamp >= ?", since).
		Order("timestamp ASC").
		Pluck("price", &prices).Error
	return prices, err
}

// LastPrices returns up to n most recent prices, newest first.
func (s *Store) LastPrices(n int) ([]float64, error) {
	var prices []float64
	err := s.db.Model(&domain.PricePoint{}).
		Order("timestamp DESC").
		Limit(n).
		Pluck("price", &prices).Error
	return prices, err
}

// LatestPricePoint returns the most recent point, or nil if the series is empty.
func (s *Store) LatestPricePoint() (*domain.PricePoint, error) {
	var p domain.PricePoint
	err := s.db.Order("timestamp DESC").First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil // empty series is not an error
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AppendPricePoint appends one sample to the price series.
func (s *Store) AppendPricePoint(p *domain.PricePoint) error {
	return s.db.Create(p).Error
}

// ======================================================================================
// Trade aggregates (exclusion-aware)
// ======================================================================================

func (s *Store) CountTrades(since time.Time, excl domain.Exclusions) (int64, error) {
	var n int64
	err := s.tradeQuery(since, excl).Count(&n).Error
	return n, err
}

func (s *Store) CountUniqueTraders(since time.Time, excl domain.Exclusions) (int64, error) {
	var n int64
	err := s.tradeQuery(since, excl).Distinct("from_address").Count(&n).Error
	return n, err
}

func (s *Store) TradeVolumeSince(since time.Time, excl domain.Exclusions) (float64, error) {
	var v *float64
	err := s.tradeQuery(since, excl).
		Select("SUM(amount)").
		Scan(&v).Error
	if err != nil || v == nil {
		return 0, err
	}
	return *v, nil
}

func (s *Store) AvgTradeSize(since time.Time, excl domain.Exclusions) (float64, error) {
	var v *float64
	err := s.tradeQuery(since, excl).
		Select("AVG(amount)").
		Scan(&v).Error
	if err != nil || v == nil {
		return 0, err
	}
	return *v, nil
}

func (s *Store) CountSmallTrades(since time.Time, maxSize float64, excl domain.Exclusions) (int64, error) {
	var n int64
	err := s.tradeQuery(since, excl).
		Where("amount < ?", maxSize).
		Count(&n).Error
	return n, err
}

// ======================================================================================
// Detection queries
// ======================================================================================

// TradeStatsByAddress groups the window's trades per originating account.
func (s *Store) TradeStatsByAddress(since time.Time, excl domain.Exclusions) ([]domain.AddressTradeStats, error) {
	var rows []struct {
		Address    string
		BuyVolume  float64
		SellVolume float64
		TradeCount int
	}
	err := s.tradeQuery(since, excl).
		Select(
			"from_address AS address, " +
				"COALESCE(SUM(CASE WHEN transaction_type = 'buy' THEN amount ELSE 0 END), 0) AS buy_volume, " +
				"COALESCE(SUM(CASE WHEN transaction_type = 'sell' THEN amount ELSE 0 END), 0) AS sell_volume, " +
				"COUNT(id) AS trade_count").
		Group("from_address").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make([]domain.AddressTradeStats, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, domain.AddressTradeStats{
			Address:    r.Address,
			BuyVolume:  r.BuyVolume,
			SellVolume: r.SellVolume,
			TradeCount: r.TradeCount,
		})
	}
	return stats, nil
}

// HighFrequencyTraders returns accounts with more than minTrades trades in the window.
func (s *Store) HighFrequencyTraders(since time.Time, minTrades int, excl domain.Exclusions) ([]domain.AddressTradeStats, error) {
	var rows []struct {
		Address    string
		TradeCount int
	}
	err := s.tradeQuery(since, excl).
		Select("from_address AS address, COUNT(id) AS trade_count").
		Group("from_address").
		Having("COUNT(id) > ?", minTrades).
		Order("trade_count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make([]domain.AddressTradeStats, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, domain.AddressTradeStats{Address: r.Address, TradeCount: r.TradeCount})
	}
	return stats, nil
}

// SmallTraders returns accounts with more than minTrades trades below maxSize.
func (s *Store) SmallTraders(since time.Time, maxSize float64, minTrades int, excl domain.Exclusions) ([]domain.AddressTradeStats, error) {
	var rows []struct {
		Address    string
		TradeCount int
	}
	err := s.tradeQuery(since, excl).
		Where("amount < ?", maxSize).
		Select("from_address AS address, COUNT(id) AS trade_count").
		Group("from_address").
		Having("COUNT(id) > ?", minTrades).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make([]domain.AddressTradeStats, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, domain.AddressTradeStats{Address: r.Address, TradeCount: r.TradeCount})
	}
	return stats, nil
}

func (s *Store) TradeIDsByAddress(addr string, since time.Time) ([]uint, error) {
	var ids []uint
	err := s.db.Model(&domain.Transaction{}).
		Where("from_address = ?", addr).
		Where("timestamp >= ?", since).
		Where("transaction_type IN ?", []string{domain.TxBuy, domain.TxSell}).
		Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) SmallTradeIDsByAddress(addr string, since time.Time, maxSize float64) ([]uint, error) {
	var ids []uint
	err := s.db.Model(&domain.Transaction{}).
		Where("from_address = ?", addr).
		Where("timestamp >= ?", since).
		Where("transaction_type IN ?", []string{domain.TxBuy, domain.TxSell}).
		Where("amount < ?", maxSize).
		Pluck("id", &ids).Error
	return ids, err
}

// ======================================================================================
// Supply-side signals
// ======================================================================================

// BurnedSince sums transaction fees in the window (fees are burned).
func (s *Store) BurnedSince(since time.Time) (float64, error) {
	var v *float64
	err := s.db.Model(&domain.Transaction{}).
		Where("timestamp >= ?", since).
		Select("SUM(fee)").
		Scan(&v).Error
	if err != nil || v == nil {
		return 0, err
	}
	return *v, nil
}

// MintedSince sums newly mined amounts in the window.
func (s *Store) MintedSince(since time.Time) (float64, error) {
	var v *float64
	err := s.db.Model(&domain.Transaction{}).
		Where("timestamp >= ?", since).
		Where("transaction_type = ?", domain.TxMining).
		Select("SUM(amount)").
		Scan(&v).Error
	if err != nil || v == nil {
		return 0, err
	}
	return *v, nil
}

// LargeTrades returns trades exceeding 3x the window's mean size, with the mean.
func (s *Store) LargeTrades(since time.Time) ([]domain.Transaction, float64, error) {
	avg, err := s.AvgTradeSize(since, domain.Exclusions{})
	if err != nil {
		return nil, 0, err
	}
	if avg <= 0 {
		return nil, 0, nil
	}
	var trades []domain.Transaction
	err = s.db.
		Where("timestamp >= ?", since).
		Where("transaction_type IN ?", []string{domain.TxBuy, domain.TxSell}).
		Where("amount > ?", avg*3).
		Find(&trades).Error
	return trades, avg, err
}

// WhaleConcentration returns the share of total supply held by the topN wallets.
func (s *Store) WhaleConcentration(topN int) (float64, error) {
	var top *float64
	err := s.db.Raw(
		"SELECT SUM(balance) FROM (SELECT balance FROM wallets ORDER BY balance DESC LIMIT ?)",
		topN,
	).Scan(&top).Error
	if err != nil {
		return 0, err
	}
	var total *float64
	if err := s.db.Model(&domain.Wallet{}).Select("SUM(balance)").Scan(&total).Error; err != nil {
		return 0, err
	}
	if top == nil || total == nil || *total == 0 {
		return 0, nil
	}
	return *top / *total, nil
}
