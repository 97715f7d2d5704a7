// Package eventbus carries synthesis lifecycle events to interested
// listeners (stats, logging) without coupling the orchestrator to them.
package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Topic names.
const (
	EventSynthesisCompleted = "synthesis:completed"
	EventSynthesisFailed    = "synthesis:failed"
	EventCacheHit           = "synthesis:cache_hit"
	EventVoiceCloned        = "voice:cloned"
	EventVoiceDeleted       = "voice:deleted"
)

// SynthesisEventData describes one finished (or failed) synthesis job.
type SynthesisEventData struct {
	JobID      string  `json:"job_id"`
	Voice      string  `json:"voice"`
	Format     string  `json:"format"`
	TextLength int     `json:"text_length"`
	Bytes      int     `json:"bytes"`
	Seconds    float64 `json:"seconds"`
	Streamed   bool    `json:"streamed"`
	Error      string  `json:"error,omitempty"`
}

// VoiceEventData describes a registry mutation.
type VoiceEventData struct {
	Name string `json:"name"`
}

// Bus wraps the process event bus.
type Bus struct {
	bus evbus.Bus
}

// New creates a bus.
func New() *Bus {
	return &Bus{bus: evbus.New()}
}

// Publish emits an event to all subscribers.
func (b *Bus) Publish(topic string, args ...interface{}) {
	if b == nil {
		return
	}
	b.bus.Publish(topic, args...)
}

// Subscribe registers a handler for topic.
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	return b.bus.Subscribe(topic, fn)
}

// SubscribeAsync registers a handler invoked on its own goroutine so slow
// listeners never delay the synthesis path.
func (b *Bus) SubscribeAsync(topic string, fn interface{}) error {
	return b.bus.SubscribeAsync(topic, fn, false)
}
