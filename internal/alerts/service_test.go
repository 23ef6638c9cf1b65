package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureSender) SendMessage(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, text)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNotifyStoreDegradedDelivers(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(Config{Enabled: true}, sender, nil)
	svc.Start()
	defer svc.Stop()

	svc.NotifyStoreDegraded(context.Background(), "ratelimit", "redis", errors.New("connection refused"))

	waitFor(t, func() bool { return sender.count() == 1 })
	assert.Contains(t, sender.messages[0], "redis")
	assert.Contains(t, sender.messages[0], "ratelimit")
}

func TestDuplicateAlertsDebounced(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(Config{Enabled: true, Debounce: time.Hour}, sender, nil)
	svc.Start()
	defer svc.Stop()

	for i := 0; i < 10; i++ {
		svc.NotifyStoreDegraded(context.Background(), "ratelimit", "redis", errors.New("down"))
	}

	waitFor(t, func() bool { return sender.count() >= 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sender.count())
	assert.Equal(t, 1, svc.DedupSize())
}

func TestNotifyStoreRecoveredDelivers(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(Config{Enabled: true}, sender, nil)
	svc.Start()
	defer svc.Stop()

	svc.NotifyStoreRecovered(context.Background(), "sqlite")

	waitFor(t, func() bool { return sender.count() == 1 })
	assert.Contains(t, sender.messages[0], "recovered")
	assert.Contains(t, sender.messages[0], "sqlite")
}

func TestDistinctComponentsNotDeduplicated(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(Config{Enabled: true, Debounce: time.Hour}, sender, nil)
	svc.Start()
	defer svc.Stop()

	svc.NotifyStoreDegraded(context.Background(), "ratelimit", "redis", errors.New("down"))
	svc.NotifyStoreDegraded(context.Background(), "quota", "redis", errors.New("down"))

	waitFor(t, func() bool { return sender.count() == 2 })
}

func TestDisabledServiceDropsAlerts(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(Config{Enabled: false}, sender, nil)
	svc.Start()
	defer svc.Stop()

	svc.NotifyStoreDegraded(context.Background(), "ratelimit", "redis", errors.New("down"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sender.count())
}

func TestNilSenderIsSafe(t *testing.T) {
	svc := NewService(Config{Enabled: true}, nil, nil)
	svc.Start()
	defer svc.Stop()

	require.NotPanics(t, func() {
		svc.NotifyStoreDegraded(context.Background(), "ratelimit", "redis", errors.New("down"))
		time.Sleep(20 * time.Millisecond)
	})
}

func TestStopIsIdempotent(t *testing.T) {
	svc := NewService(Config{Enabled: true}, &captureSender{}, nil)
	svc.Start()
	svc.Stop()
	require.NotPanics(t, func() { svc.Stop() })
}
