package hub

import (
	"context"
	"encoding/json"
	"log"
)

// StreamPublisher is a narrower publish-only view of the hub, matching the
// teacher's streaming.Publisher interface shape so callers that only need
// to emit events (rather than manage subscriptions) can depend on it.
type StreamPublisher interface {
	PublishEvent(ctx context.Context, investigationID string, event Event) error
}

// HubPublisher adapts Hub.Publish to StreamPublisher for use by the
// dispatch facade and worker pool.
type HubPublisher struct {
	hub *Hub
}

// NewHubPublisher wraps h as a StreamPublisher.
func NewHubPublisher(h *Hub) *HubPublisher {
	return &HubPublisher{hub: h}
}

func (p *HubPublisher) PublishEvent(ctx context.Context, investigationID string, event Event) error {
	p.hub.Publish(investigationID, event)
	return nil
}

// LogPublisher is a development-mode StreamPublisher that logs every event
// instead of fanning it out to subscribers, grounded on streaming.LogPublisher.
type LogPublisher struct {
	logger *log.Logger
}

// NewLogPublisher creates a publisher that writes events to the default logger.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: log.Default()}
}

func (p *LogPublisher) PublishEvent(ctx context.Context, investigationID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.logger.Printf("[HUB] investigation=%s event=%s", investigationID, string(data))
	return nil
}
