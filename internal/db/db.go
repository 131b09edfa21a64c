// Package db manages the MongoDB connection and collections.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB and pings the primary.
func New(ctx context.Context, uri, database string) (*Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	if database == "" {
		database = "circles"
	}
	return &Client{client: client, db: client.Database(database)}, nil
}

func (c *Client) UsersCollection() *mongo.Collection    { return c.db.Collection("users") }
func (c *Client) SessionsCollection() *mongo.Collection { return c.db.Collection("study_sessions") }
func (c *Client) StateCollection() *mongo.Collection    { return c.db.Collection("state") }

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Ping checks the connection; used by the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// CreateIndexes creates the indexes the stores query by.
func (c *Client) CreateIndexes(ctx context.Context) error {
	users := []mongo.IndexModel{
		{Keys: bson.D{{Key: "total_study_seconds", Value: -1}}},
		{Keys: bson.D{{Key: "display_name_lower", Value: 1}}},
	}
	if _, err := c.UsersCollection().Indexes().CreateMany(ctx, users); err != nil {
		return fmt.Errorf("create users indexes: %w", err)
	}

	sessions := []mongo.IndexModel{
		{Keys: bson.D{{Key: "uid", Value: 1}, {Key: "ended_at", Value: -1}}},
		{Keys: bson.D{{Key: "room_code", Value: 1}}},
	}
	if _, err := c.SessionsCollection().Indexes().CreateMany(ctx, sessions); err != nil {
		return fmt.Errorf("create session indexes: %w", err)
	}

	state := []mongo.IndexModel{
		{Keys: bson.D{{Key: "_id.kind", Value: 1}, {Key: "_id.owner", Value: 1}}},
	}
	if _, err := c.StateCollection().Indexes().CreateMany(ctx, state); err != nil {
		return fmt.Errorf("create state indexes: %w", err)
	}
	return nil
}
