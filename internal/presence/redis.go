package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore shares presence between instances.
//
// Keys:
//   - {prefix}:conn:{uid}      set of live connection ids
//   - {prefix}:presence:{uid}  hash {online, last_seen}
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore expires connection sets after ttl so a crashed instance
// cannot pin users online forever.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) connKey(uid string) string     { return fmt.Sprintf("%s:conn:%s", s.prefix, uid) }
func (s *RedisStore) presenceKey(uid string) string { return fmt.Sprintf("%s:presence:%s", s.prefix, uid) }

func (s *RedisStore) Connect(ctx context.Context, uid, connID string) (bool, error) {
	var added, card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		added = p.SAdd(ctx, s.connKey(uid), connID)
		p.Expire(ctx, s.connKey(uid), s.ttl)
		card = p.SCard(ctx, s.connKey(uid))
		p.HSet(ctx, s.presenceKey(uid), "online", 1, "last_seen", s.now().UnixMilli())
		return nil
	})
	if err != nil {
		return false, err
	}
	return added.Val() == 1 && card.Val() == 1, nil
}

func (s *RedisStore) Disconnect(ctx context.Context, uid, connID string) (bool, error) {
	var removed, card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.SRem(ctx, s.connKey(uid), connID)
		card = p.SCard(ctx, s.connKey(uid))
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed.Val() == 0 || card.Val() > 0 {
		return false, nil
	}
	err = s.client.HSet(ctx, s.presenceKey(uid), "online", 0, "last_seen", s.now().UnixMilli()).Err()
	return true, err
}

func (s *RedisStore) Get(ctx context.Context, uid string) (Status, error) {
	fields, err := s.client.HGetAll(ctx, s.presenceKey(uid)).Result()
	if err != nil {
		return Status{}, err
	}
	var st Status
	st.Online = fields["online"] == "1"
	if v, ok := fields["last_seen"]; ok {
		st.LastSeen, _ = strconv.ParseInt(v, 10, 64)
	}
	return st, nil
}

// Relay carries hub frames between instances over a Redis channel.
type Relay struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewRelay(client *redis.Client, channel string, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{client: client, channel: channel, log: log}
}

func (r *Relay) Publish(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Run hands every relayed payload to receive until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, receive func([]byte)) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("relay subscribed", zap.String("channel", r.channel))
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			receive([]byte(msg.Payload))
		}
	}
}
