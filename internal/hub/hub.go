// Package hub fans typed change events out to subscribed realtime clients.
//
// Topics mirror document paths ("userInboxes/{uid}", "messages/{chatId}",
// "rooms/{code}", ...). A subscriber receives every event published to a
// topic it is subscribed to. A subscriber that cannot keep up is dropped
// from every topic and closed, so its client reconnects and resyncs instead
// of silently missing events.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Kind is the type of change carried by an Event.
type Kind string

const (
	Added   Kind = "added"
	Changed Kind = "changed"
	Removed Kind = "removed"
)

// Event is the frame pushed to clients.
type Event struct {
	Type  string `json:"type"` // always "event"
	Topic string `json:"topic"`
	Kind  Kind   `json:"kind"`
	Key   string `json:"key,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// ErrSlowConsumer is returned by Subscriber.Send when its buffer is full.
var ErrSlowConsumer = errors.New("subscriber buffer full")

// Subscriber is the minimal interface the hub needs from a connection.
type Subscriber interface {
	ID() string
	// Owner is the uid the connection belongs to.
	Owner() string
	Send(payload []byte) error
	Close()
}

// Relay forwards events to other service instances.
type Relay interface {
	Publish(ctx context.Context, payload []byte) error
}

type relayEnvelope struct {
	Origin string          `json:"origin"`
	Topic  string          `json:"topic,omitempty"`
	Frame  json.RawMessage `json:"frame,omitempty"`
	Revoke *revocation     `json:"revoke,omitempty"`
}

type revocation struct {
	UID    string   `json:"uid"`
	Topics []string `json:"topics"`
}

type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]Subscriber // topic -> id -> sub
	subs   map[string]map[string]bool       // id -> set(topic)

	instance string
	relay    Relay
	log      *zap.Logger
}

func New(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		topics: map[string]map[string]Subscriber{},
		subs:   map[string]map[string]bool{},
		log:    log,
	}
}

// SetRelay enables cross-instance delivery. instance identifies this process
// so relayed frames are not delivered twice locally.
func (h *Hub) SetRelay(instance string, r Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.instance = instance
	h.relay = r
}

func (h *Hub) Subscribe(topic string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = map[string]Subscriber{}
	}
	h.topics[topic][s.ID()] = s

	if _, ok := h.subs[s.ID()]; !ok {
		h.subs[s.ID()] = map[string]bool{}
	}
	h.subs[s.ID()][topic] = true
}

func (h *Hub) Unsubscribe(topic, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(topic, id)
}

func (h *Hub) unsubscribeLocked(topic, id string) {
	if set, ok := h.topics[topic]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
	if set, ok := h.subs[id]; ok {
		delete(set, topic)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
}

// Drop removes a subscriber from every topic.
func (h *Hub) Drop(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range h.subs[id] {
		h.unsubscribeLocked(topic, id)
	}
}

// Revoke unsubscribes every connection of uid from topics, on this instance
// and, through the relay, on the others. Used when access to a topic ends
// while the user is still connected.
func (h *Hub) Revoke(ctx context.Context, uid string, topics ...string) {
	h.revokeLocal(uid, topics)

	h.mu.RLock()
	relay, instance := h.relay, h.instance
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	env, _ := json.Marshal(&relayEnvelope{Origin: instance, Revoke: &revocation{UID: uid, Topics: topics}})
	if err := relay.Publish(ctx, env); err != nil {
		h.log.Warn("relay revoke failed", zap.String("uid", uid), zap.Error(err))
	}
}

func (h *Hub) revokeLocal(uid string, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		for id, s := range h.topics[topic] {
			if s.Owner() == uid {
				h.unsubscribeLocked(topic, id)
			}
		}
	}
}

// Topics returns the topics id is subscribed to.
func (h *Hub) Topics(id string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subs[id]))
	for t := range h.subs[id] {
		out = append(out, t)
	}
	return out
}

// Subscribers returns the number of subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish delivers a change event to local subscribers of topic and, when a
// relay is configured, to other instances.
func (h *Hub) Publish(ctx context.Context, topic string, kind Kind, key string, data any) {
	frame, err := json.Marshal(&Event{Type: "event", Topic: topic, Kind: kind, Key: key, Data: data})
	if err != nil {
		h.log.Error("marshal event", zap.String("topic", topic), zap.Error(err))
		return
	}
	h.deliver(topic, frame)

	h.mu.RLock()
	relay, instance := h.relay, h.instance
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	env, _ := json.Marshal(&relayEnvelope{Origin: instance, Topic: topic, Frame: frame})
	if err := relay.Publish(ctx, env); err != nil {
		h.log.Warn("relay publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Receive handles a payload arriving from the relay.
func (h *Hub) Receive(payload []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		h.log.Warn("bad relay payload", zap.Error(err))
		return
	}
	h.mu.RLock()
	self := h.instance
	h.mu.RUnlock()
	if env.Origin == self {
		return
	}
	if env.Revoke != nil {
		h.revokeLocal(env.Revoke.UID, env.Revoke.Topics)
		return
	}
	h.deliver(env.Topic, env.Frame)
}

func (h *Hub) deliver(topic string, frame []byte) {
	h.mu.RLock()
	set := h.topics[topic]
	snapshot := make([]Subscriber, 0, len(set))
	for _, s := range set {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	var failed []Subscriber
	for _, s := range snapshot {
		if err := s.Send(frame); err != nil {
			failed = append(failed, s)
		}
	}
	for _, s := range failed {
		h.log.Info("dropping subscriber", zap.String("id", s.ID()), zap.String("uid", s.Owner()), zap.String("topic", topic))
		h.Drop(s.ID())
		s.Close()
	}
}
