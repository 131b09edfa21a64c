package data

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// SessionsStore keeps the study-session log.
type SessionsStore struct {
	coll *mongo.Collection
}

func NewSessionsStore(coll *mongo.Collection) *SessionsStore {
	return &SessionsStore{coll: coll}
}

func (s *SessionsStore) AddSession(ctx context.Context, sess StudySession) error {
	if _, err := s.coll.InsertOne(ctx, sess); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionsStore) ListSessions(ctx context.Context, uid string, limit int) ([]StudySession, error) {
	opts := options.Find().SetSort(bson.D{{Key: "ended_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, bson.M{"uid": uid}, opts)
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	defer cur.Close(ctx)

	out := []StudySession{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return out, nil
}
