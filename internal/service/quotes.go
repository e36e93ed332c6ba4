package service

import (
	"context"
	"time"

	"parcmarket/internal/domain"
)

// QuoteSource produces the current display snapshot.
type QuoteSource interface {
	Quote(now time.Time) domain.Quote
}

// QuoteSink receives display snapshots for fan-out.
type QuoteSink interface {
	BroadcastQuote(q domain.Quote)
}

// QuoteService pushes the live quote to the sink on the display cadence.
// It only reads from the engine; a slow sink drops updates on its own side.
type QuoteService struct {
	src      QuoteSource
	sink     QuoteSink
	interval time.Duration
}

func NewQuoteService(src QuoteSource, sink QuoteSink, interval time.Duration) *QuoteService {
	return &QuoteService{src: src, sink: sink, interval: interval}
}

// Start launches the background push loop.
func (s *QuoteService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.sink.BroadcastQuote(s.src.Quote(now))
			}
		}
	}()
}
