package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jaecopzm/postcraft-sub000/internal/logging"
)

// Sender delivers a formatted alert message to the operator channel.
// Implemented by the telegram notifier; nil drops alerts on the floor.
type Sender interface {
	SendMessage(text string) error
}

// Config represents alert service configuration
type Config struct {
	Enabled            bool
	Debounce           time.Duration
	RateLimitPerMinute int
}

// Service turns store degradation events into debounced, rate-limited
// operator alerts. It implements the DegradationNotifier interface consumed
// by the limiter and the quota ledger.
type Service struct {
	config    Config
	sender    Sender
	logger    *logging.Logger
	dedup     *DedupStore
	throttler *Throttler

	alertChan chan Alert

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new alert service
func NewService(config Config, sender Sender, logger *logging.Logger) *Service {
	if config.Debounce <= 0 {
		config.Debounce = 5 * time.Minute
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 30
	}

	return &Service{
		config:    config,
		sender:    sender,
		logger:    logger,
		dedup:     NewDedupStore(config.Debounce),
		throttler: NewThrottler(config.RateLimitPerMinute, config.RateLimitPerMinute),
		alertChan: make(chan Alert, 100),
	}
}

// Start starts the alert delivery goroutine.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go s.deliverLoop(ctx)
	go s.cleanupLoop(ctx)
}

// Stop stops the service and waits for in-flight deliveries.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// NotifyStoreDegraded records a store degradation event. Duplicate events for
// the same component and backend inside the debounce window are dropped.
func (s *Service) NotifyStoreDegraded(ctx context.Context, component, backend string, err error) {
	if !s.config.Enabled {
		return
	}

	alert := Alert{
		Type:      AlertTypeStoreDegraded,
		Severity:  SeverityCritical,
		Component: component,
		Backend:   backend,
		Message:   fmt.Sprintf("store %s unavailable for %s: %v", backend, component, err),
		Timestamp: time.Now(),
	}
	s.process(ctx, alert)
}

// NotifyStoreRecovered records a store coming back after degradation.
func (s *Service) NotifyStoreRecovered(ctx context.Context, backend string) {
	if !s.config.Enabled {
		return
	}

	alert := Alert{
		Type:      AlertTypeStoreRecovered,
		Severity:  SeverityWarning,
		Component: "store",
		Backend:   backend,
		Message:   fmt.Sprintf("store %s recovered", backend),
		Timestamp: time.Now(),
	}
	s.process(ctx, alert)
}

func (s *Service) process(ctx context.Context, alert Alert) {
	key := alert.AlertKey()
	if s.dedup.IsDuplicate(key) {
		return
	}
	if !s.throttler.Allow() {
		if s.logger != nil {
			s.logger.WarnWithContext(ctx, "alert throttled",
				"alert_type", string(alert.Type),
				"backend", alert.Backend,
			)
		}
		return
	}

	select {
	case s.alertChan <- alert:
		s.dedup.Record(key)
	default:
		if s.logger != nil {
			s.logger.WarnWithContext(ctx, "alert channel full, dropping",
				"alert_type", string(alert.Type),
			)
		}
	}
}

func (s *Service) deliverLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-s.alertChan:
			s.send(alert)
		}
	}
}

func (s *Service) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dedup.Cleanup()
		}
	}
}

func (s *Service) send(alert Alert) {
	if s.sender == nil {
		return
	}

	text := fmt.Sprintf("*%s* [%s]\n%s\n_%s_",
		alert.Type,
		alert.Severity,
		alert.Message,
		alert.Timestamp.UTC().Format(time.RFC3339),
	)
	if err := s.sender.SendMessage(text); err != nil && s.logger != nil {
		s.logger.Warn("alert delivery failed", "error", err.Error())
	}
}

// DedupSize returns the current dedup store size, used by tests.
func (s *Service) DedupSize() int {
	return s.dedup.Size()
}
