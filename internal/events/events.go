// Package events carries typed notifications between the core components
// and outward subscribers (status feed, logging). The transport is a
// watermill in-process pub/sub; payloads are JSON.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topics. One topic per component; the event payload carries the kind.
const (
	TopicBurst     = "burst"
	TopicSession   = "session"
	TopicWindow    = "window"
	TopicDetection = "detection"
)

// Event kinds.
const (
	KindBurstStarted    = "burst_started"
	KindBurstContinued  = "burst_continued"
	KindBurstEnded      = "burst_ended"
	KindSessionStarted  = "session_started"
	KindSessionEnded    = "session_ended"
	KindWindowActivated = "window_activated"
	KindWindowRemoved   = "window_removed"
	KindDetectionDone   = "detection_completed"
)

// Envelope is the wire form of every event.
type Envelope struct {
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Bus wraps the in-process pub/sub with typed publish helpers. A nil Bus is
// valid and drops everything, so components can be wired without one.
type Bus struct {
	pubSub *gochannel.GoChannel
}

// NewBus creates the in-process bus.
func NewBus() *Bus {
	return &Bus{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
	}
}

// Publish marshals payload into an Envelope on topic. Errors are swallowed:
// event delivery is best-effort and never fails the caller's flow.
func (b *Bus) Publish(topic, kind string, payload any) {
	if b == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env := Envelope{Kind: kind, Timestamp: time.Now(), Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	_ = b.pubSub.Publish(topic, msg)
}

// Subscribe returns a channel of envelopes for topic. The subscription ends
// when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Envelope, error) {
	messages, err := b.pubSub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Envelope, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err == nil {
				select {
				case out <- env:
				case <-ctx.Done():
					msg.Ack()
					return
				}
			}
			msg.Ack()
		}
	}()
	return out, nil
}

// Close shuts the bus down and terminates all subscriptions.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.pubSub.Close()
}
