package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/pubsub/v2"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

// ErrNotInitialized is returned when publishing through a hub that was never built or was closed.
var ErrNotInitialized = errors.New("event hub not initialized")

type (
	// Subscriber is one live connection. Deliver must not block.
	Subscriber interface {
		ID() string
		Deliver(msg Message)
	}

	// Message is the envelope delivered to subscribers.
	Message struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}

	Metrics interface {
		ObservePublish(event string)
		ObserveSubscriptions(delta int)
	}

	// Hub fans attendance events out to the connections that joined a class channel.
	// Membership is in-memory and scoped to the connection.
	Hub struct {
		mutex   sync.Mutex
		closed  bool
		hub     *pubsub.SimpleHub
		members map[string]map[string]func() // connection ID -> channel -> unsubscribe
		counts  map[string]int               // channel -> subscribers
		logger  core.Logger
		metrics Metrics
	}
)

var _ attendance.Publisher = (*Hub)(nil)

// NewHub builds a Hub. A nil Metrics disables instrumentation.
func NewHub(logger core.Logger, metrics Metrics) *Hub {
	return &Hub{
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: hubLogger{logger},
		}),
		members: make(map[string]map[string]func()),
		counts:  make(map[string]int),
		logger:  logger,
		metrics: metrics,
	}
}

// Publish sends ev to every connection subscribed to the class channel.
// Publishing to a channel nobody joined is a no-op.
func (h *Hub) Publish(ctx context.Context, ev attendance.Event) error {
	return h.PublishTo(ctx, ev.Channel(), attendance.EventName, ev)
}

// PublishTo delivers an arbitrary named event on channel.
// Events describe committed changes, so a canceled ctx does not stop delivery.
func (h *Hub) PublishTo(_ context.Context, channel, name string, data interface{}) error {
	if h == nil {
		return ErrNotInitialized
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed || h.hub == nil {
		return ErrNotInitialized
	}
	if h.counts[channel] == 0 {
		return nil
	}
	_ = h.hub.Publish(channel, Message{Event: name, Data: data})
	if h.metrics != nil {
		h.metrics.ObservePublish(name)
	}
	return nil
}

// Join subscribes sub to the class channel. Joining twice is a no-op.
func (h *Hub) Join(sub Subscriber, classID int64) error {
	if h == nil {
		return ErrNotInitialized
	}
	channel := attendance.ChannelName(classID)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed || h.hub == nil {
		return ErrNotInitialized
	}

	channels, ok := h.members[sub.ID()]
	if !ok {
		channels = make(map[string]func())
		h.members[sub.ID()] = channels
	}
	if _, joined := channels[channel]; joined {
		return nil
	}
	channels[channel] = h.hub.Subscribe(channel, func(_ string, data interface{}) {
		if msg, ok := data.(Message); ok {
			sub.Deliver(msg)
		}
	})
	h.counts[channel]++
	h.observeSubscriptions(1)
	h.logger.Debug(fmt.Sprintf("connection %s joined %s", sub.ID(), channel))
	return nil
}

// Leave unsubscribes sub from the class channel.
func (h *Hub) Leave(sub Subscriber, classID int64) {
	if h == nil {
		return
	}
	channel := attendance.ChannelName(classID)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.leave(sub.ID(), channel)
}

// LeaveAll drops every subscription of sub, typically on disconnect.
func (h *Hub) LeaveAll(sub Subscriber) {
	if h == nil {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for channel := range h.members[sub.ID()] {
		h.leave(sub.ID(), channel)
	}
	delete(h.members, sub.ID())
}

func (h *Hub) leave(connID, channel string) {
	channels := h.members[connID]
	unsubscribe, ok := channels[channel]
	if !ok {
		return
	}
	unsubscribe()
	delete(channels, channel)
	if len(channels) == 0 {
		delete(h.members, connID)
	}
	if h.counts[channel]--; h.counts[channel] <= 0 {
		delete(h.counts, channel)
	}
	h.observeSubscriptions(-1)
	h.logger.Debug(fmt.Sprintf("connection %s left %s", connID, channel))
}

// Channels lists the channels sub has joined.
func (h *Hub) Channels(sub Subscriber) []string {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	channels := make([]string, 0, len(h.members[sub.ID()]))
	for channel := range h.members[sub.ID()] {
		channels = append(channels, channel)
	}
	return channels
}

// Subscribers returns how many connections joined channel.
func (h *Hub) Subscribers(channel string) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.counts[channel]
}

// Close drops every subscription. Later publishes fail with ErrNotInitialized.
func (h *Hub) Close() {
	if h == nil {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for connID, channels := range h.members {
		for channel := range channels {
			h.leave(connID, channel)
		}
	}
	h.closed = true
}

func (h *Hub) observeSubscriptions(delta int) {
	if h.metrics != nil {
		h.metrics.ObserveSubscriptions(delta)
	}
}

// hubLogger adapts core.Logger to the logger expected by the pubsub hub.
type hubLogger struct {
	logger core.Logger
}

func (l hubLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l hubLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l hubLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l hubLogger) Debugf(format string, args ...interface{}) {}

func (l hubLogger) Tracef(format string, args ...interface{}) {}
