package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UsersStore performs user DB operations.
type UsersStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll, now: time.Now}
}

func (s *UsersStore) UpsertUser(ctx context.Context, u User) (User, error) {
	if u.UID == "" {
		return User{}, errors.New("uid required")
	}
	u = normalizeUser(u, s.now().UTC())
	set := bson.M{
		"display_name":       u.DisplayName,
		"display_name_lower": u.NameLower,
		"updated_at":         u.UpdatedAt,
	}
	if u.PhotoURL != "" {
		set["photo_url"] = u.PhotoURL
	}
	if u.Bio != "" {
		set["bio"] = u.Bio
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": u.UpdatedAt, "total_study_seconds": int64(0)},
	}
	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": u.UID}, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUser(ctx, u.UID)
}

func (s *UsersStore) GetUser(ctx context.Context, uid string) (User, error) {
	var u User
	err := s.coll.FindOne(ctx, bson.M{"_id": uid}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UsersStore) ListUsers(ctx context.Context) ([]User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "total_study_seconds", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cur.Close(ctx)

	users := []User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (s *UsersStore) AddStudySeconds(ctx context.Context, uid string, seconds int64) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": uid}, bson.M{
		"$inc": bson.M{"total_study_seconds": seconds},
		"$set": bson.M{"updated_at": s.now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("add study seconds: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
