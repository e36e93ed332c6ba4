package service

import (
	"context"
	"log/slog"
	"sync"

	"parcmarket/internal/domain"
)

// recentAlertCap bounds the in-memory alert history served over the API.
const recentAlertCap = 100

// Notifier delivers one detection alert to an external channel. Delivery is
// fire-and-forget: failures are the notifier's problem and never reach the
// pricing path.
type Notifier interface {
	NotifyDetection(rec domain.DetectionRecord)
}

// AlertService drains the engine's detection feed: every record is logged,
// kept in a bounded recent list, and forwarded to the notifier.
type AlertService struct {
	mu       sync.RWMutex
	recent   []domain.DetectionRecord
	feed     <-chan domain.DetectionRecord
	notifier Notifier
}

// NewAlertService creates the service. notifier may be nil.
func NewAlertService(feed <-chan domain.DetectionRecord, notifier Notifier) *AlertService {
	return &AlertService{feed: feed, notifier: notifier}
}

// Start launches the background drain goroutine.
func (s *AlertService) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case rec := <-s.feed:
				s.handle(rec)
			}
		}
	}()
}

// Recent returns the retained alerts, newest last.
func (s *AlertService) Recent() []domain.DetectionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DetectionRecord, len(s.recent))
	copy(out, s.recent)
	return out
}

func (s *AlertService) handle(rec domain.DetectionRecord) {
	slog.Warn("manipulation alert",
		slog.String("id", rec.ID.String()),
		slog.String("type", string(rec.Type)),
		slog.Int("transactions", len(rec.TransactionIDs)),
		slog.Any("addresses", rec.Addresses))

	s.mu.Lock()
	s.recent = append(s.recent, rec)
	if len(s.recent) > recentAlertCap {
		s.recent = s.recent[len(s.recent)-recentAlertCap:]
	}
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.NotifyDetection(rec)
	}
}
