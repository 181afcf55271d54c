package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo is an insert-only checkpoint collection. The resume record is the
// most recently inserted document.
type Mongo struct {
	coll *mongo.Collection
}

func NewMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect checkpoint store: %w", err)
	}
	return &Mongo{coll: client.Database(database).Collection(collection)}, nil
}

func (m *Mongo) ReadLast(ctx context.Context) (*Record, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})
	var rec Record
	err := m.coll.FindOne(ctx, bson.D{}, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return &rec, nil
}

func (m *Mongo) Append(ctx context.Context, rec Record) error {
	last, err := m.ReadLast(ctx)
	if err != nil {
		return &WriteError{Err: err}
	}
	if err := validateAdvance(last, rec); err != nil {
		return &WriteError{Err: err}
	}
	if _, err := m.coll.InsertOne(ctx, rec); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}
