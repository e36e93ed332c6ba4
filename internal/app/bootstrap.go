package app

import (
	"log/slog"
	"math/rand"
	"time"

	"parcmarket/internal/detect"
	"parcmarket/internal/domain"
	"parcmarket/internal/engine"
	"parcmarket/internal/event"
	"parcmarket/internal/infra"
	"parcmarket/internal/infra/storage"
	"parcmarket/internal/service"
	"parcmarket/internal/ws"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config   *infra.Config
	Store    *storage.Store
	Snapshot *storage.Snapshot
	Detector *detect.Detector
	Injector *event.Injector
	Engine   *engine.Engine
	Hub      *ws.Hub
	Alerts   *service.AlertService
	Quotes   *service.QuoteService
	Server   *Server
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize wires the whole pricing process: config, logging, storage,
// detection, events, the engine, and the serving surface.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping PARC market engine...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Storage: signal DB + JSON snapshots
	store, err := storage.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ Market database initialized", slog.String("path", cfg.Storage.DBPath))

	snap, err := storage.NewSnapshot(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	b.Snapshot = snap

	// 4. Detection and scripted events
	b.Detector = detect.NewDetector(detect.Config{
		WashWindow:          time.Duration(cfg.Detection.WashWindowHours) * time.Hour,
		WashMinTrades:       cfg.Detection.WashMinTrades,
		WashMatchRatio:      cfg.Detection.WashMatchRatio,
		FreqWindow:          time.Duration(cfg.Detection.FreqWindowHours) * time.Hour,
		MaxTradesPerUser:    cfg.Detection.MaxTradesPerUser,
		SmallTradeRatio:     cfg.Detection.SmallTradeRatio,
		SmallTradeMaxAccs:   cfg.Detection.SmallTradeMaxAccs,
		SmallTradeMinTxs:    cfg.Detection.SmallTradeMinTxs,
		SmallTradeMinPerAcc: cfg.Detection.SmallTradeMinPerAcc,
		Cooldown:            cfg.DetectionCooldown(),
		Expiry:              cfg.DetectionExpiry(),
	}, store, snap)

	b.Hub = ws.NewHub()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	b.Injector = event.NewInjector(cfg.EventCooldown(), rng, func(e domain.EventEffect) {
		b.Hub.BroadcastEvent(e)
	})

	// 5. The engine itself
	eng, err := engine.NewEngine(engine.Config{
		DefaultPrice:   cfg.Market.DefaultPrice,
		PriceFloor:     cfg.Market.PriceFloor,
		TotalSupply:    cfg.Market.TotalSupply,
		RecalcInterval: cfg.RecalcInterval(),
		TickInterval:   cfg.TickInterval(),
		SaveInterval:   cfg.SaveInterval(),
	}, store, snap, b.Detector, b.Injector, rng)
	if err != nil {
		return err
	}
	b.Engine = eng
	slog.Info("✅ Pricing engine ready",
		slog.String("symbol", cfg.Market.Symbol),
		slog.Float64("price", eng.CurrentPrice()))

	// 6. Serving surface
	b.Alerts = service.NewAlertService(eng.DetectionFeed(), b.Hub)
	b.Quotes = service.NewQuoteService(eng, b.Hub, cfg.TickInterval())
	b.Server = NewServer(cfg.Server.Addr, eng, b.Alerts, b.Hub)

	return nil
}
