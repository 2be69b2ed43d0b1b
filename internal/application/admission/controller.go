package admission

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/ports"
)

const (
	// DefaultCapacity es el máximo de ciclos activos a la vez.
	DefaultCapacity = 2
	// DefaultPollInterval es la espera entre intentos de admisión.
	DefaultPollInterval = 30 * time.Second
)

// Controller bounds the number of concurrently active cycles. Waiters poll;
// there is no queue and no ordering among them.
type Controller struct {
	capacity int
	poll     time.Duration
	metrics  ports.MetricsRecorder

	mu     sync.Mutex
	active map[string]time.Time // cycle id → admitted at
}

// NewController creates a controller. Non-positive values fall back to the
// defaults.
func NewController(capacity int, poll time.Duration, metrics ports.MetricsRecorder) *Controller {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if metrics == nil {
		metrics = ports.NopRecorder{}
	}
	return &Controller{
		capacity: capacity,
		poll:     poll,
		metrics:  metrics,
		active:   make(map[string]time.Time),
	}
}

// Acquire blocks until the cycle is admitted. It only fails when ctx is done.
// Acquiring an id that is already active returns immediately.
func (c *Controller) Acquire(ctx context.Context, cycleID string) error {
	waited := 0
	for {
		if c.tryAdmit(cycleID) {
			slog.Info("admission: cycle admitted", "cycle", cycleID, "polls", waited)
			return nil
		}
		if waited == 0 {
			slog.Info("admission: at capacity, waiting",
				"cycle", cycleID,
				"capacity", c.capacity,
				"poll", c.poll,
			)
		}
		waited++

		select {
		case <-ctx.Done():
			slog.Warn("admission: wait cancelled", "cycle", cycleID, "err", ctx.Err())
			return ctx.Err()
		case <-time.After(c.poll):
		}
	}
}

func (c *Controller) tryAdmit(cycleID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[cycleID]; ok {
		return true
	}
	if len(c.active) >= c.capacity {
		return false
	}
	c.active[cycleID] = time.Now()
	c.metrics.CycleAdmitted()
	return true
}

// Release frees the cycle's slot. Releasing an unknown id is a no-op.
func (c *Controller) Release(cycleID string) {
	c.mu.Lock()
	since, ok := c.active[cycleID]
	if ok {
		delete(c.active, cycleID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	c.metrics.CycleReleased()
	slog.Info("admission: cycle released", "cycle", cycleID, "held", time.Since(since).Round(time.Second))
}

// Active returns the admitted cycle ids, oldest first.
func (c *Controller) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return c.active[ids[i]].Before(c.active[ids[j]])
	})
	return ids
}

// Capacity returns the maximum number of concurrently active cycles.
func (c *Controller) Capacity() int {
	return c.capacity
}
