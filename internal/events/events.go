// Package events publishes domain events (message sent, friend request,
// room closed, ...) for downstream consumers such as push notification
// workers.
package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	MessageSent     = "message.sent"
	MessageUnsent   = "message.unsent"
	GroupCreated    = "group.created"
	GroupDeleted    = "group.deleted"
	FriendRequested = "friend.requested"
	FriendAccepted  = "friend.accepted"
	UserFollowed    = "user.followed"
	PostLiked       = "post.liked"
	PostCommented   = "post.commented"
	RoomCreated     = "room.created"
	RoomClosed      = "room.closed"
	SessionRecorded = "session.recorded"
)

type Event struct {
	Type    string         `json:"type"`
	Actor   string         `json:"actor"`
	Subject string         `json:"subject,omitempty"`
	Ref     string         `json:"ref,omitempty"`
	At      time.Time      `json:"at"`
	Data    map[string]any `json:"data,omitempty"`
}

// Emitter publishes domain events. Implementations must be safe for
// concurrent use.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

// Recorder keeps events in memory; used by tests.
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder { return &Recorder{ch: make(chan Event, size)} }

func (r *Recorder) Emit(_ context.Context, e Event) error {
	select {
	case r.ch <- e:
	default:
	}
	return nil
}

// Drain returns the events recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Producer writes events to a Kafka topic, keyed by actor so one user's
// events stay ordered within a partition.
type Producer struct {
	writer *kafkago.Writer
	log    *zap.Logger
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Producer{writer: w, log: log}
}

func (p *Producer) Emit(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := kafkago.Message{
		Key:   []byte(e.Actor),
		Value: b,
		Time:  e.At,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("kafka write failed", zap.String("type", e.Type), zap.Error(err))
		return err
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
