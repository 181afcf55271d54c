package metastore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo reads batch identifiers from a MongoDB collection.
type Mongo struct {
	coll *mongo.Collection
}

func NewMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect metadata store: %w", err)
	}
	return &Mongo{coll: client.Database(database).Collection(collection)}, nil
}

func (m *Mongo) NextBatch(ctx context.Context, afterID string, limit int64) ([]Item, error) {
	filter := bson.M{}
	if afterID != "" {
		filter["_id"] = bson.M{"$gt": afterID}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit).
		SetProjection(bson.M{"_id": 1})

	cur, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer cur.Close(ctx)

	var items []Item
	if err := cur.All(ctx, &items); err != nil {
		return nil, &Error{Err: err}
	}
	return items, nil
}
