package compliance

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBRepository implements Repository using MongoDB, the alternate
// backing store for operators already running a Mongo cluster for other
// parts of their stack.
type MongoDBRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoEntry struct {
	Address   string    `bson:"_id"`
	Reason    string    `bson:"reason"`
	AddedBy   string    `bson:"addedBy"`
	CreatedAt time.Time `bson:"createdAt"`
}

// NewMongoDBRepository connects to MongoDB and ensures the collection's
// indexes exist.
func NewMongoDBRepository(connectionString, database, collection string) (*MongoDBRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("compliance: connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("compliance: ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("compliance: create indexes: %w", err)
	}

	return &MongoDBRepository{client: client, collection: coll}, nil
}

func (r *MongoDBRepository) IsListed(ctx context.Context, address string) (bool, error) {
	err := r.collection.FindOne(ctx, bson.M{"_id": address}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compliance: is listed: %w", err)
	}
	return true, nil
}

func (r *MongoDBRepository) ListEntries(ctx context.Context) ([]Entry, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("compliance: list entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []Entry
	for cursor.Next(ctx) {
		var me mongoEntry
		if err := cursor.Decode(&me); err != nil {
			return nil, fmt.Errorf("compliance: decode entry: %w", err)
		}
		entries = append(entries, Entry{
			Address:   me.Address,
			Reason:    me.Reason,
			AddedBy:   me.AddedBy,
			CreatedAt: me.CreatedAt,
		})
	}
	return entries, cursor.Err()
}

func (r *MongoDBRepository) AddEntry(ctx context.Context, entry Entry) error {
	doc := mongoEntry{
		Address:   entry.Address,
		Reason:    entry.Reason,
		AddedBy:   entry.AddedBy,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": entry.Address}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("compliance: add entry: %w", err)
	}
	return nil
}

func (r *MongoDBRepository) RemoveEntry(ctx context.Context, address string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": address})
	if err != nil {
		return fmt.Errorf("compliance: remove entry: %w", err)
	}
	return nil
}

func (r *MongoDBRepository) Close() error {
	return r.client.Disconnect(context.Background())
}
