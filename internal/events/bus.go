// Package events implements the small in-process pub/sub registry that
// wires Consensus and the Ledger engine together without either holding a
// back-pointer to the other (spec §9, "Cyclic between Consensus and
// Ledger"). Handlers run one goroutine-hop past the publishing call so a
// handler that itself publishes can never re-enter the publisher's stack.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Names of the lifecycle events emitted across the system (spec §6).
const (
	TopicRawTxAdded            = "raw_tx:added"
	TopicValidationTasksCreated = "validation_tasks:created"
	TopicValidationComplete    = "validation:complete"
	TopicTxProcessing          = "tx:processing"
	TopicTxMovedToProcessing   = "tx:moved_to_processing"
	TopicTxFinalized           = "tx:finalized"
	TopicBlockAdded            = "block:added"
	TopicFaceComplete          = "face:complete"
	TopicCubeComplete          = "cube:complete"
	TopicSupercubeComplete     = "supercube:complete"
)

// Handler receives an event payload. The concrete payload type is
// documented per topic in spec §6; subscribers type-assert it.
type Handler func(payload interface{})

// Bus is a multi-producer, multi-subscriber registry (spec §5).
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers fn to be called for every future Publish(topic, ...).
func (b *Bus) Subscribe(topic string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], fn)
}

// Publish fans payload out to every handler subscribed to topic. Each
// handler runs in its own goroutine so a handler that publishes another
// event never re-enters Publish's caller frame; callers that need the
// cascade to finish before they proceed (the ledger engine's recursive
// face/cube formation, spec §5) must not rely on event delivery for that
// — they call the aggregation functions directly instead, and only use
// the bus for side-channel notification (gossip, logging, metrics).
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	for _, h := range hs {
		h := h
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("topic", topic).Errorf("events: handler panic: %v", r)
				}
			}()
			h(payload)
		}()
	}
}

// PublishSync is like Publish but invokes handlers synchronously in the
// caller's goroutine, used for deterministic tests that need to observe
// side effects before asserting.
func (b *Bus) PublishSync(topic string, payload interface{}) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[topic]...)
	b.mu.RUnlock()
	for _, h := range hs {
		h(payload)
	}
}
