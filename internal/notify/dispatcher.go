package notify

import (
	"context"
	"sync"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/sirupsen/logrus"
)

// Channel delivers events to one destination
type Channel interface {
	Send(ctx context.Context, event domain.Event) error
	GetName() string
}

// Dispatcher fans events out to every channel. Emit never blocks the caller
// and delivery failures are only logged.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
	mutex    sync.RWMutex
	log      *logrus.Entry

	totalEvents  int64
	eventsByType map[domain.EventType]int64
	failures     map[string]int64
}

// NewDispatcher creates a dispatcher with a per-send timeout
func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		timeout:      timeout,
		now:          time.Now,
		log:          logger.Component("notify"),
		eventsByType: make(map[domain.EventType]int64),
		failures:     make(map[string]int64),
	}
}

// AddChannel adds a delivery channel
func (d *Dispatcher) AddChannel(ch Channel) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.channels = append(d.channels, ch)
}

// Emit sends the event through all channels in the background
func (d *Dispatcher) Emit(event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now().UTC()
	}

	d.mutex.Lock()
	d.totalEvents++
	d.eventsByType[event.Type]++
	channels := append([]Channel(nil), d.channels...)
	d.mutex.Unlock()

	for _, ch := range channels {
		d.wg.Add(1)
		go func(ch Channel) {
			defer d.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			if err := ch.Send(ctx, event); err != nil {
				d.mutex.Lock()
				d.failures[ch.GetName()]++
				d.mutex.Unlock()
				d.log.WithFields(logrus.Fields{
					"channel": ch.GetName(),
					"event":   event.Type,
				}).WithError(err).Warn("Failed to deliver event")
			}
		}(ch)
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats returns dispatcher statistics
func (d *Dispatcher) GetStats() map[string]interface{} {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	byType := make(map[string]int64, len(d.eventsByType))
	for t, n := range d.eventsByType {
		byType[string(t)] = n
	}
	failures := make(map[string]int64, len(d.failures))
	for name, n := range d.failures {
		failures[name] = n
	}
	return map[string]interface{}{
		"total_events":    d.totalEvents,
		"events_by_type":  byType,
		"failures":        failures,
		"active_channels": len(d.channels),
	}
}

// LogChannel writes events to the structured log
type LogChannel struct{}

// NewLogChannel creates a log channel
func NewLogChannel() *LogChannel {
	return &LogChannel{}
}

// Send implements Channel
func (LogChannel) Send(ctx context.Context, event domain.Event) error {
	fields := logger.IdentityFields(event.Identity)
	fields["event"] = event.Type
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	if event.BanID != "" {
		fields["ban_id"] = event.BanID
	}
	logger.Component("notify").WithFields(fields).Info("Event")
	return nil
}

// GetName implements Channel
func (LogChannel) GetName() string {
	return "log"
}
