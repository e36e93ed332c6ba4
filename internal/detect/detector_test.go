package detect

import (
	"testing"
	"time"

	"parcmarket/internal/domain"
)

// stubStore satisfies domain.SignalStore with empty signals; fakeSignals
// overrides the queries a test cares about.
type stubStore struct{}

func (stubStore) PendingOrderDepth() (float64, float64, error)      { return 0, 0, nil }
func (stubStore) PricesSince(time.Time) ([]float64, error)          { return nil, nil }
func (stubStore) LastPrices(int) ([]float64, error)                 { return nil, nil }
func (stubStore) LatestPricePoint() (*domain.PricePoint, error)     { return nil, nil }
func (stubStore) AppendPricePoint(*domain.PricePoint) error         { return nil }
func (stubStore) CountTrades(time.Time, domain.Exclusions) (int64, error) {
	return 0, nil
}
func (stubStore) CountUniqueTraders(time.Time, domain.Exclusions) (int64, error) {
	return 0, nil
}
func (stubStore) TradeVolumeSince(time.Time, domain.Exclusions) (float64, error) {
	return 0, nil
}
func (stubStore) AvgTradeSize(time.Time, domain.Exclusions) (float64, error) {
	return 0, nil
}
func (stubStore) CountSmallTrades(time.Time, float64, domain.Exclusions) (int64, error) {
	return 0, nil
}
func (stubStore) TradeStatsByAddress(time.Time, domain.Exclusions) ([]domain.AddressTradeStats, error) {
	return nil, nil
}
func (stubStore) HighFrequencyTraders(time.Time, int, domain.Exclusions) ([]domain.AddressTradeStats, error) {
	return nil, nil
}
func (stubStore) SmallTraders(time.Time, float64, int, domain.Exclusions) ([]domain.AddressTradeStats, error) {
	return nil, nil
}
func (stubStore) TradeIDsByAddress(string, time.Time) ([]uint, error) { return nil, nil }
func (stubStore) SmallTradeIDsByAddress(string, time.Time, float64) ([]uint, error) {
	return nil, nil
}
func (stubStore) BurnedSince(time.Time) (float64, error) { return 0, nil }
func (stubStore) MintedSince(time.Time) (float64, error) { return 0, nil }
func (stubStore) LargeTrades(time.Time) ([]domain.Transaction, float64, error) {
	return nil, 0, nil
}
func (stubStore) WhaleConcentration(int) (float64, error) { return 0, nil }

type fakeSignals struct {
	stubStore
	stats        []domain.AddressTradeStats
	idsByAddr    map[string][]uint
	trades       int64
	unique       int64
	avg          float64
	small        int64
	hfTraders    []domain.AddressTradeStats
	smallTraders []domain.AddressTradeStats
	smallIDs     map[string][]uint

	smallMinSeen int
}

func (f *fakeSignals) TradeStatsByAddress(time.Time, domain.Exclusions) ([]domain.AddressTradeStats, error) {
	return f.stats, nil
}

func (f *fakeSignals) TradeIDsByAddress(addr string, _ time.Time) ([]uint, error) {
	return append([]uint(nil), f.idsByAddr[addr]...), nil
}

func (f *fakeSignals) CountTrades(time.Time, domain.Exclusions) (int64, error) {
	return f.trades, nil
}

func (f *fakeSignals) CountUniqueTraders(time.Time, domain.Exclusions) (int64, error) {
	return f.unique, nil
}

func (f *fakeSignals) AvgTradeSize(time.Time, domain.Exclusions) (float64, error) {
	return f.avg, nil
}

func (f *fakeSignals) CountSmallTrades(time.Time, float64, domain.Exclusions) (int64, error) {
	return f.small, nil
}

func (f *fakeSignals) HighFrequencyTraders(time.Time, int, domain.Exclusions) ([]domain.AddressTradeStats, error) {
	return f.hfTraders, nil
}

func (f *fakeSignals) SmallTraders(_ time.Time, _ float64, minTrades int, _ domain.Exclusions) ([]domain.AddressTradeStats, error) {
	f.smallMinSeen = minTrades
	return f.smallTraders, nil
}

func (f *fakeSignals) SmallTradeIDsByAddress(addr string, _ time.Time, _ float64) ([]uint, error) {
	return append([]uint(nil), f.smallIDs[addr]...), nil
}

type fakeSnapshot struct {
	flags []uint
	saves int
}

func (s *fakeSnapshot) SaveFlags(ids []uint) error {
	s.flags = append([]uint(nil), ids...)
	s.saves++
	return nil
}

func (s *fakeSnapshot) LoadFlags() ([]uint, error) { return s.flags, nil }

func (s *fakeSnapshot) SaveState(domain.PriceBand, time.Time) error { return nil }

func (s *fakeSnapshot) LoadState() (domain.PriceBand, bool, error) {
	return domain.PriceBand{}, false, nil
}

func testConfig() Config {
	return Config{
		WashWindow:          3 * time.Hour,
		WashMinTrades:       10,
		WashMatchRatio:      0.7,
		FreqWindow:          24 * time.Hour,
		MaxTradesPerUser:    10,
		SmallTradeRatio:     0.7,
		SmallTradeMaxAccs:   5,
		SmallTradeMinTxs:    20,
		SmallTradeMinPerAcc: 5,
		Cooldown:            time.Hour,
		Expiry:              24 * time.Hour,
	}
}

func washIDs(n int, from uint) []uint {
	ids := make([]uint, 0, n)
	for i := uint(0); i < uint(n); i++ {
		ids = append(ids, from+i)
	}
	return ids
}

func TestDetector_FlagsSymmetricWashTrading(t *testing.T) {
	store := &fakeSignals{
		stats: []domain.AddressTradeStats{
			{Address: "wash-addr", BuyVolume: 100, SellVolume: 100, TradeCount: 15},
		},
		idsByAddr: map[string][]uint{"wash-addr": washIDs(15, 1)},
	}
	snap := &fakeSnapshot{}
	d := NewDetector(testConfig(), store, snap)

	now := time.Now()
	if !d.Scan(now) {
		t.Fatal("symmetric 15-trade account was not flagged")
	}
	if got := len(d.PermanentFlags()); got != 15 {
		t.Fatalf("permanent flags = %d, want 15", got)
	}

	excl := d.Exclusions()
	if len(excl.TransactionIDs) != 15 {
		t.Errorf("exclusion ids = %d, want 15", len(excl.TransactionIDs))
	}
	if len(excl.Addresses) != 1 || excl.Addresses[0] != "wash-addr" {
		t.Errorf("exclusion addresses = %v, want [wash-addr]", excl.Addresses)
	}
	if snap.saves != 1 {
		t.Errorf("flag checkpoint saved %d times, want 1", snap.saves)
	}

	select {
	case rec := <-d.Feed():
		if rec.Type != domain.ManipulationWashTrading {
			t.Errorf("record type = %q, want wash_trading", rec.Type)
		}
		if rec.Evidence.MatchRatio != 1.0 {
			t.Errorf("match ratio = %v, want 1.0", rec.Evidence.MatchRatio)
		}
	default:
		t.Error("no detection record on the feed")
	}
}

func TestDetector_IgnoresAsymmetricTrading(t *testing.T) {
	store := &fakeSignals{
		stats: []domain.AddressTradeStats{
			{Address: "trader", BuyVolume: 100, SellVolume: 10, TradeCount: 15},
		},
		idsByAddr: map[string][]uint{"trader": washIDs(15, 1)},
	}
	d := NewDetector(testConfig(), store, &fakeSnapshot{})

	if d.Scan(time.Now()) {
		t.Fatal("ratio-0.1 account should not be flagged")
	}
	if len(d.PermanentFlags()) != 0 {
		t.Error("no flags expected")
	}
}

func TestDetector_FlagsAreMonotonic(t *testing.T) {
	store := &fakeSignals{
		stats: []domain.AddressTradeStats{
			{Address: "wash-addr", BuyVolume: 100, SellVolume: 95, TradeCount: 12},
		},
		idsByAddr: map[string][]uint{"wash-addr": washIDs(12, 1)},
	}
	d := NewDetector(testConfig(), store, &fakeSnapshot{})

	now := time.Now()
	d.Scan(now)
	first := len(d.PermanentFlags())
	if first != 12 {
		t.Fatalf("first scan flagged %d, want 12", first)
	}

	// Rescanning the same evidence, inside and outside the cooldown, never
	// shrinks the set and never re-records already flagged ids.
	d.Scan(now.Add(10 * time.Minute))
	d.Scan(now.Add(2 * time.Hour))
	if got := len(d.PermanentFlags()); got != first {
		t.Fatalf("flags changed from %d to %d on rescan", first, got)
	}
}

func TestDetector_SeededFlagsExcluded(t *testing.T) {
	d := NewDetector(testConfig(), &fakeSignals{}, &fakeSnapshot{})
	d.Seed([]uint{7, 8, 9})

	excl := d.Exclusions()
	if len(excl.TransactionIDs) != 3 {
		t.Fatalf("seeded exclusions = %d, want 3", len(excl.TransactionIDs))
	}
}

func TestDetector_HighFrequencyFlagging(t *testing.T) {
	store := &fakeSignals{
		trades: 100,
		unique: 5, // 20 trades per account
		hfTraders: []domain.AddressTradeStats{
			{Address: "bot-1", TradeCount: 60},
		},
		idsByAddr: map[string][]uint{"bot-1": washIDs(60, 100)},
	}
	d := NewDetector(testConfig(), store, &fakeSnapshot{})

	d.Scan(time.Now())
	if got := len(d.PermanentFlags()); got != 60 {
		t.Fatalf("flagged %d transactions, want 60", got)
	}

	select {
	case rec := <-d.Feed():
		if rec.Type != domain.ManipulationHighFrequency {
			t.Errorf("record type = %q, want high_frequency_trading", rec.Type)
		}
		if rec.Evidence.Severity != 1.0 {
			t.Errorf("severity = %v, want 1.0 for 20 trades/user", rec.Evidence.Severity)
		}
	default:
		t.Error("no detection record on the feed")
	}
}

func TestDetector_SmallTradeSybilFlagging(t *testing.T) {
	store := &fakeSignals{
		trades: 30,
		unique: 3,
		avg:    10,
		small:  25, // ratio 0.83
		smallTraders: []domain.AddressTradeStats{
			{Address: "sybil-1", TradeCount: 25},
		},
		smallIDs: map[string][]uint{"sybil-1": washIDs(25, 500)},
	}
	d := NewDetector(testConfig(), store, &fakeSnapshot{})

	d.Scan(time.Now())
	if got := len(d.PermanentFlags()); got != 25 {
		t.Fatalf("flagged %d transactions, want 25", got)
	}

	select {
	case rec := <-d.Feed():
		if rec.Type != domain.ManipulationSmallTrades {
			t.Errorf("record type = %q, want small_distributed_trading", rec.Type)
		}
	default:
		t.Error("no detection record on the feed")
	}
}

func TestDetector_SmallTradeAccountMinimumFromConfig(t *testing.T) {
	store := &fakeSignals{
		trades: 30,
		unique: 3,
		avg:    10,
		small:  25,
	}
	cfg := testConfig()
	cfg.SmallTradeMinPerAcc = 7
	d := NewDetector(cfg, store, &fakeSnapshot{})

	d.Scan(time.Now())
	if store.smallMinSeen != 7 {
		t.Fatalf("small-trader query used minimum %d, want configured 7", store.smallMinSeen)
	}
}

func TestDetector_DetectedAddressesExpire(t *testing.T) {
	store := &fakeSignals{
		stats: []domain.AddressTradeStats{
			{Address: "wash-addr", BuyVolume: 50, SellVolume: 50, TradeCount: 11},
		},
		idsByAddr: map[string][]uint{"wash-addr": washIDs(11, 1)},
	}
	d := NewDetector(testConfig(), store, &fakeSnapshot{})

	now := time.Now()
	d.Scan(now)
	if len(d.Exclusions().Addresses) != 1 {
		t.Fatal("address should be excluded right after detection")
	}

	// Stop producing evidence, jump past the 24h expiry.
	store.stats = nil
	d.Scan(now.Add(25 * time.Hour))

	excl := d.Exclusions()
	if len(excl.Addresses) != 0 {
		t.Errorf("detected addresses survived expiry: %v", excl.Addresses)
	}
	// Permanent ids never expire.
	if len(excl.TransactionIDs) != 11 {
		t.Errorf("permanent ids after expiry = %d, want 11", len(excl.TransactionIDs))
	}
}
