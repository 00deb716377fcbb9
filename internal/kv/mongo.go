package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCollection = "kv_entries"

type mongoEntry struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Mongo keeps one document per key, using _id as the key.
type Mongo struct {
	client *mongo.Client
	col    *mongo.Collection
}

func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	c, err := mongo.Connect(dctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := c.Ping(dctx, nil); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Mongo{client: c, col: c.Database(database).Collection(mongoCollection)}, nil
}

func (m *Mongo) Get(ctx context.Context, key string) (Entry, error) {
	var doc mongoEntry
	err := m.col.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Entry{}, nil
	}
	if err != nil {
		return Entry{}, fmt.Errorf("kv get %s: %w", key, err)
	}
	return Entry{Value: doc.Value, Version: doc.Version}, nil
}

func (m *Mongo) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	now := time.Now().UTC()
	if expected == 0 {
		_, err := m.col.InsertOne(ctx, mongoEntry{Key: key, Value: value, Version: 1, UpdatedAt: now})
		if mongo.IsDuplicateKeyError(err) {
			return 0, ErrConflict
		}
		if err != nil {
			return 0, fmt.Errorf("kv insert %s: %w", key, err)
		}
		return 1, nil
	}

	res, err := m.col.UpdateOne(ctx,
		bson.M{"_id": key, "version": expected},
		bson.M{
			"$set": bson.M{"value": value, "updated_at": now},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	if res.MatchedCount == 0 {
		return 0, ErrConflict
	}
	return expected + 1, nil
}

func (m *Mongo) Delete(ctx context.Context, key string) error {
	if _, err := m.col.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (m *Mongo) Ping(ctx context.Context) error { return m.client.Ping(ctx, nil) }

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
