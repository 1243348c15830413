// Package registercache keeps the most recent value seen for every
// holding register, feeding future derived-topic publication.
package registercache

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/celsworth/lxp-bridge-sub000/internal/bus"
)

// just needs to be bigger than the max register we'll see
const registerCount = 256

type EventKind int

const (
	EventRegisterData EventKind = iota
	EventShutdown
)

type Event struct {
	Kind     EventKind
	Register uint16
	Value    uint16
}

func RegisterDataEvent(register, value uint16) Event {
	return Event{Kind: EventRegisterData, Register: register, Value: value}
}

func ShutdownEvent() Event {
	return Event{Kind: EventShutdown}
}

type Cache struct {
	toCache *bus.Bus[Event]

	mu        sync.RWMutex
	registers [registerCount]uint16
}

func New(toCache *bus.Bus[Event]) *Cache {
	return &Cache{toCache: toCache}
}

// Get returns the cached value for a register, or false when the
// register is out of range.
func (c *Cache) Get(register uint16) (uint16, bool) {
	if register >= registerCount {
		return 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registers[register], true
}

// Start drains the cache bus until shutdown or cancellation.
func (c *Cache) Start(ctx context.Context) error {
	sub := c.toCache.Subscribe()
	defer sub.Close()

	for {
		event, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrLagged) {
				slog.Warn("register cache lagged, some values were dropped")
				continue
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		switch event.Kind {
		case EventShutdown:
			return nil
		case EventRegisterData:
			if event.Register >= registerCount {
				slog.Warn("cannot cache register, out of range",
					"register", event.Register, "max", registerCount-1)
				continue
			}
			c.mu.Lock()
			c.registers[event.Register] = event.Value
			c.mu.Unlock()
		}
	}
}
