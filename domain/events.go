package domain

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	UserRegistered = "user-registered"
	TaskCreated    = "task-created"
	TaskUpdated    = "task-updated"
	TaskReordered  = "task-reordered"
	TaskDeleted    = "task-deleted"
)

// Event describes a committed change, published for downstream consumers.
type Event struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	UserID   string         `json:"userId"`
	EntityID string         `json:"entityId"`
	ListID   string         `json:"listId,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Time     int64          `json:"time"`
}

func newEvent(typ, userID, entityID, listID string, data map[string]any) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     typ,
		UserID:   userID,
		EntityID: entityID,
		ListID:   listID,
		Data:     data,
		Time:     nextTimestamp(),
	}
}

var lastTimestamp int64

// nextTimestamp returns a strictly increasing unix-nano timestamp so events
// emitted by one process keep their order.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}
