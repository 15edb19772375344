package scanning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// maxProbeAge is how long a slot may be held before the manager reports
	// itself unhealthy. A probe that honours its deadline releases well before.
	maxProbeAge = 5 * time.Minute
)

// ResourceManager bounds the number of outstanding connection attempts.
type ResourceManager interface {
	// Acquire blocks until a slot is available for the given task ID or the
	// context is cancelled.
	Acquire(ctx context.Context, taskID string) error

	// Release frees the slot held by the given task ID.
	Release(taskID string)
}

// ResourceStats is a point-in-time view of a FixedResourceManager.
type ResourceStats struct {
	Capacity  int  `json:"capacity"`
	Active    int  `json:"active"`
	Available int  `json:"available"`
	Closed    bool `json:"closed"`
	Healthy   bool `json:"healthy"`
}

// FixedResourceManager implements ResourceManager with a fixed number of slots
// backed by a weighted semaphore.
type FixedResourceManager struct {
	capacity  int
	semaphore *semaphore.Weighted
	active    map[string]time.Time
	mutex     sync.RWMutex
	closed    bool
}

// NewFixedResourceManager creates a new resource manager with the specified capacity.
func NewFixedResourceManager(capacity int) *FixedResourceManager {
	if capacity <= 0 {
		capacity = 1
	}

	return &FixedResourceManager{
		capacity:  capacity,
		semaphore: semaphore.NewWeighted(int64(capacity)),
		active:    make(map[string]time.Time),
	}
}

// Acquire attempts to acquire a slot for the given task ID.
func (rm *FixedResourceManager) Acquire(ctx context.Context, taskID string) error {
	rm.mutex.RLock()
	closed := rm.closed
	rm.mutex.RUnlock()
	if closed {
		return fmt.Errorf("resource manager is closed")
	}

	if err := rm.semaphore.Acquire(ctx, 1); err != nil {
		return err
	}

	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	if _, exists := rm.active[taskID]; exists {
		rm.semaphore.Release(1)
		return fmt.Errorf("task %s already holds a slot", taskID)
	}
	rm.active[taskID] = time.Now()
	return nil
}

// Release releases the slot held by the given task ID. Unknown IDs are ignored.
func (rm *FixedResourceManager) Release(taskID string) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if _, exists := rm.active[taskID]; exists {
		delete(rm.active, taskID)
		rm.semaphore.Release(1)
	}
}

// IsHealthy returns false once closed or when a slot has been held for longer
// than any probe deadline could explain.
func (rm *FixedResourceManager) IsHealthy() bool {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return rm.healthyLocked()
}

func (rm *FixedResourceManager) healthyLocked() bool {
	if rm.closed {
		return false
	}

	now := time.Now()
	for _, acquired := range rm.active {
		if now.Sub(acquired) > maxProbeAge {
			return false
		}
	}

	return true
}

// Close shuts down the resource manager. Further Acquire calls fail; slots
// already held can still be released.
func (rm *FixedResourceManager) Close() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	rm.closed = true
	return nil
}

// Stats returns the current slot usage.
func (rm *FixedResourceManager) Stats() ResourceStats {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return ResourceStats{
		Capacity:  rm.capacity,
		Active:    len(rm.active),
		Available: rm.capacity - len(rm.active),
		Closed:    rm.closed,
		Healthy:   rm.healthyLocked(),
	}
}
