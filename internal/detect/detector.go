package detect

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"parcmarket/internal/domain"
)

// Config carries the detection thresholds. Values are the hand-tuned
// constants the market was balanced around; see configs/config.yaml.
type Config struct {
	WashWindow     time.Duration // wash-trading lookback (3h)
	WashMinTrades  int           // trades before an account is considered (10)
	WashMatchRatio float64       // min(buy,sell)/max(buy,sell) threshold (0.7)

	FreqWindow       time.Duration // high-frequency lookback (24h)
	MaxTradesPerUser float64       // trades per unique account threshold (10)

	SmallTradeRatio     float64 // small-trade share threshold (0.7)
	SmallTradeMaxAccs   int     // unique-account ceiling for the Sybil signature (5)
	SmallTradeMinTxs    int     // minimum total trades for the Sybil signature (20)
	SmallTradeMinPerAcc int     // minimum small trades before an account is listed (5)

	Cooldown time.Duration // per-type alert cooldown (1h)
	Expiry   time.Duration // detected-set TTL (24h)
}

// Detector scans recent transactions for wash trading and abnormal trade
// frequency. Flagged transaction ids join a permanent exclusion set that
// only ever grows; a secondary 24h detected set suppresses re-alerting on
// the same evidence.
type Detector struct {
	cfg   Config
	store domain.SignalStore
	snap  domain.Snapshotter

	mu            sync.Mutex
	permanent     map[uint]struct{}
	detected      map[uint]time.Time
	detectedAddrs map[string]time.Time
	lastWarning   map[domain.ManipulationType]time.Time
	lastSweep     time.Time

	feed chan domain.DetectionRecord
}

// NewDetector builds a detector with an empty flag set. Call Seed with the
// persisted flags before the first scan.
func NewDetector(cfg Config, store domain.SignalStore, snap domain.Snapshotter) *Detector {
	return &Detector{
		cfg:           cfg,
		store:         store,
		snap:          snap,
		permanent:     make(map[uint]struct{}),
		detected:      make(map[uint]time.Time),
		detectedAddrs: make(map[string]time.Time),
		lastWarning:   make(map[domain.ManipulationType]time.Time),
		feed:          make(chan domain.DetectionRecord, 64),
	}
}

// Seed installs previously persisted permanent flags.
func (d *Detector) Seed(ids []uint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.permanent[id] = struct{}{}
	}
	if len(ids) > 0 {
		slog.Info("loaded permanent transaction flags", slog.Int("count", len(ids)))
	}
}

// Feed returns the detection record channel. Sends never block; records
// are dropped when the consumer falls behind.
func (d *Detector) Feed() <-chan domain.DetectionRecord {
	return d.feed
}

// PermanentFlags returns a copy of the permanent exclusion set.
func (d *Detector) PermanentFlags() []uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permanentLocked()
}

func (d *Detector) permanentLocked() []uint {
	ids := make([]uint, 0, len(d.permanent))
	for id := range d.permanent {
		ids = append(ids, id)
	}
	return ids
}

// Exclusions returns the current signal-computation exclusions: all
// permanently flagged ids, the 24h detected ids, and detected addresses.
func (d *Detector) Exclusions() domain.Exclusions {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]uint, 0, len(d.permanent)+len(d.detected))
	for id := range d.permanent {
		ids = append(ids, id)
	}
	for id := range d.detected {
		if _, dup := d.permanent[id]; !dup {
			ids = append(ids, id)
		}
	}
	addrs := make([]string, 0, len(d.detectedAddrs))
	for a := range d.detectedAddrs {
		addrs = append(addrs, a)
	}
	return domain.Exclusions{TransactionIDs: ids, Addresses: addrs}
}

// Scan runs all detectors once. It reports whether wash trading was flagged
// this pass so the pricing cycle can damp its own output. Store errors
// disable the affected detector for the pass, never fail the cycle.
func (d *Detector) Scan(now time.Time) (washDetected bool) {
	d.sweep(now)
	washDetected = d.detectWashTrading(now)
	d.detectHighFrequency(now)
	d.detectSmallTrades(now)
	return washDetected
}

// detectWashTrading flags accounts whose buy and sell volumes nearly offset
// across many trades in a short window.
func (d *Detector) detectWashTrading(now time.Time) bool {
	if d.inCooldown(domain.ManipulationWashTrading, now) {
		return false
	}

	since := now.Add(-d.cfg.WashWindow)
	stats, err := d.store.TradeStatsByAddress(since, d.Exclusions())
	if err != nil {
		slog.Debug("wash-trading scan unavailable", slog.Any("error", err))
		return false
	}

	for _, st := range stats {
		if st.TradeCount <= d.cfg.WashMinTrades || st.BuyVolume <= 0 || st.SellVolume <= 0 {
			continue
		}
		ratio := math.Min(st.BuyVolume, st.SellVolume) / math.Max(st.BuyVolume, st.SellVolume)
		if ratio <= d.cfg.WashMatchRatio {
			continue
		}

		ids, err := d.store.TradeIDsByAddress(st.Address, since)
		if err != nil {
			slog.Debug("wash-trading id lookup failed", slog.String("address", st.Address), slog.Any("error", err))
			continue
		}
		ids = d.withoutPermanent(ids)
		if len(ids) == 0 {
			continue
		}

		rec := domain.NewDetectionRecord(
			domain.ManipulationWashTrading,
			[]string{st.Address},
			ids,
			domain.DetectionEvidence{
				TradeCount: st.TradeCount,
				BuyVolume:  st.BuyVolume,
				SellVolume: st.SellVolume,
				MatchRatio: ratio,
			},
			now,
		)
		if d.flag(rec, now) {
			return true
		}
	}
	return false
}

// detectHighFrequency flags windows where trades-per-unique-account exceeds
// the threshold, with severity scaled by the overshoot.
func (d *Detector) detectHighFrequency(now time.Time) {
	if d.inCooldown(domain.ManipulationHighFrequency, now) {
		return
	}

	since := now.Add(-d.cfg.FreqWindow)
	excl := d.Exclusions()

	trades, err := d.store.CountTrades(since, excl)
	if err != nil {
		slog.Debug("high-frequency scan unavailable", slog.Any("error", err))
		return
	}
	unique, err := d.store.CountUniqueTraders(since, excl)
	if err != nil || unique == 0 {
		return
	}

	perUser := float64(trades) / float64(unique)
	if perUser <= d.cfg.MaxTradesPerUser {
		return
	}
	severity := math.Min((perUser-d.cfg.MaxTradesPerUser)/5, 1.0)

	traders, err := d.store.HighFrequencyTraders(since, int(d.cfg.MaxTradesPerUser), excl)
	if err != nil || len(traders) == 0 {
		return
	}

	var ids []uint
	addrs := make([]string, 0, len(traders))
	for _, t := range traders {
		txIDs, err := d.store.TradeIDsByAddress(t.Address, since)
		if err != nil {
			continue
		}
		ids = append(ids, d.withoutPermanent(txIDs)...)
		addrs = append(addrs, t.Address)
	}
	if len(ids) == 0 {
		return
	}

	rec := domain.NewDetectionRecord(
		domain.ManipulationHighFrequency,
		addrs,
		ids,
		domain.DetectionEvidence{
			TradeCount:     int(trades),
			UniqueAccounts: int(unique),
			TradesPerUser:  perUser,
			Severity:       severity,
		},
		now,
	)
	d.flag(rec, now)
}

// detectSmallTrades flags the Sybil signature: mostly sub-mean-size trades
// from a handful of accounts generating lots of volume events.
func (d *Detector) detectSmallTrades(now time.Time) {
	if d.inCooldown(domain.ManipulationSmallTrades, now) {
		return
	}

	since := now.Add(-d.cfg.FreqWindow)
	excl := d.Exclusions()

	trades, err := d.store.CountTrades(since, excl)
	if err != nil || trades <= int64(d.cfg.SmallTradeMinTxs) {
		return
	}
	unique, err := d.store.CountUniqueTraders(since, excl)
	if err != nil || unique >= int64(d.cfg.SmallTradeMaxAccs) {
		return
	}
	avg, err := d.store.AvgTradeSize(since, excl)
	if err != nil || avg <= 0 {
		return
	}
	smallMax := avg * 0.5
	small, err := d.store.CountSmallTrades(since, smallMax, excl)
	if err != nil {
		return
	}
	ratio := float64(small) / float64(trades)
	if ratio <= d.cfg.SmallTradeRatio {
		return
	}

	traders, err := d.store.SmallTraders(since, smallMax, d.cfg.SmallTradeMinPerAcc, excl)
	if err != nil || len(traders) == 0 {
		return
	}

	var ids []uint
	addrs := make([]string, 0, len(traders))
	for _, t := range traders {
		txIDs, err := d.store.SmallTradeIDsByAddress(t.Address, since, smallMax)
		if err != nil {
			continue
		}
		ids = append(ids, d.withoutPermanent(txIDs)...)
		addrs = append(addrs, t.Address)
	}
	if len(ids) == 0 {
		return
	}

	rec := domain.NewDetectionRecord(
		domain.ManipulationSmallTrades,
		addrs,
		ids,
		domain.DetectionEvidence{
			TradeCount:     int(trades),
			UniqueAccounts: int(unique),
			SmallRatio:     ratio,
		},
		now,
	)
	d.flag(rec, now)
}

// flag records a detection: permanent + detected sets grow, the flag file
// is checkpointed immediately, and the record is offered to the feed.
// Returns false when every id was already flagged.
func (d *Detector) flag(rec domain.DetectionRecord, now time.Time) bool {
	d.mu.Lock()

	added := 0
	for _, id := range rec.TransactionIDs {
		if _, dup := d.permanent[id]; !dup {
			d.permanent[id] = struct{}{}
			added++
		}
		d.detected[id] = now
	}
	if added == 0 {
		d.mu.Unlock()
		return false
	}
	for _, a := range rec.Addresses {
		d.detectedAddrs[a] = now
	}
	d.lastWarning[rec.Type] = now
	flags := d.permanentLocked()
	d.mu.Unlock()

	slog.Warn("market manipulation flagged",
		slog.String("type", string(rec.Type)),
		slog.Int("transactions", added),
		slog.Any("addresses", rec.Addresses))

	// Checkpoint immediately so a crash cannot lose fresh flags.
	if d.snap != nil {
		if err := d.snap.SaveFlags(flags); err != nil {
			slog.Error("failed to persist flags", slog.Any("error", err))
		}
	}

	select {
	case d.feed <- rec:
	default:
		slog.Debug("detection feed full, record dropped", slog.String("id", rec.ID.String()))
	}
	return true
}

func (d *Detector) inCooldown(t domain.ManipulationType, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastWarning[t]
	return ok && now.Sub(last) < d.cfg.Cooldown
}

func (d *Detector) withoutPermanent(ids []uint) []uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := ids[:0]
	for _, id := range ids {
		if _, dup := d.permanent[id]; !dup {
			out = append(out, id)
		}
	}
	return out
}

// sweep evicts expired entries from the temporary detected sets. The
// permanent set is never swept. Runs at most once per hour.
func (d *Detector) sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.lastSweep.IsZero() && now.Sub(d.lastSweep) < time.Hour {
		return
	}
	d.lastSweep = now

	removed := 0
	for id, at := range d.detected {
		if now.Sub(at) >= d.cfg.Expiry {
			delete(d.detected, id)
			removed++
		}
	}
	for addr, at := range d.detectedAddrs {
		if now.Sub(at) >= d.cfg.Expiry {
			delete(d.detectedAddrs, addr)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("detection bookkeeping swept", slog.Int("evicted", removed))
	}
}
