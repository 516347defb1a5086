package tokenregistry

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/x402fac/facilitator/pkg/protocol"
)

// MongoDBRepository implements Repository using MongoDB, the alternate
// backing store for operators already running a Mongo cluster for other
// parts of their stack.
type MongoDBRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoDeployment struct {
	ID            string    `bson:"_id"`
	Network       string    `bson:"network"`
	Asset         string    `bson:"asset"`
	Symbol        string    `bson:"symbol"`
	Decimals      uint8     `bson:"decimals"`
	EIP712Name    string    `bson:"eip712Name"`
	EIP712Version string    `bson:"eip712Version"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

// NewMongoDBRepository connects to MongoDB and ensures the collection's
// indexes exist.
func NewMongoDBRepository(connectionString, database, collection string) (*MongoDBRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("tokenregistry: connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("tokenregistry: ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "network", Value: 1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("tokenregistry: create indexes: %w", err)
	}

	return &MongoDBRepository{client: client, collection: coll}, nil
}

func (r *MongoDBRepository) GetDeployment(ctx context.Context, network protocol.Network, asset string) (Deployment, error) {
	var md mongoDeployment
	err := r.collection.FindOne(ctx, bson.M{"_id": key(network, asset)}).Decode(&md)
	if err == mongo.ErrNoDocuments {
		return Deployment{}, ErrDeploymentNotFound
	}
	if err != nil {
		return Deployment{}, fmt.Errorf("tokenregistry: get deployment: %w", err)
	}
	return deploymentFromMongo(md), nil
}

func (r *MongoDBRepository) ListDeployments(ctx context.Context) ([]Deployment, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("tokenregistry: list deployments: %w", err)
	}
	defer cursor.Close(ctx)

	var deployments []Deployment
	for cursor.Next(ctx) {
		var md mongoDeployment
		if err := cursor.Decode(&md); err != nil {
			return nil, fmt.Errorf("tokenregistry: decode deployment: %w", err)
		}
		deployments = append(deployments, deploymentFromMongo(md))
	}
	return deployments, cursor.Err()
}

func (r *MongoDBRepository) AddDeployment(ctx context.Context, d Deployment) error {
	now := time.Now().UTC()
	doc := mongoDeployment{
		ID:            d.Key(),
		Network:       string(d.Network),
		Asset:         d.Asset,
		Symbol:        d.Symbol,
		Decimals:      d.Decimals,
		EIP712Name:    d.EIP712Name,
		EIP712Version: d.EIP712Version,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("tokenregistry: add deployment: %w", err)
	}
	return nil
}

func (r *MongoDBRepository) RemoveDeployment(ctx context.Context, network protocol.Network, asset string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": key(network, asset)})
	if err != nil {
		return fmt.Errorf("tokenregistry: remove deployment: %w", err)
	}
	return nil
}

func (r *MongoDBRepository) Close() error {
	return r.client.Disconnect(context.Background())
}

func deploymentFromMongo(md mongoDeployment) Deployment {
	return Deployment{
		Network:       protocol.Network(md.Network),
		Asset:         md.Asset,
		Symbol:        md.Symbol,
		Decimals:      md.Decimals,
		EIP712Name:    md.EIP712Name,
		EIP712Version: md.EIP712Version,
		CreatedAt:     md.CreatedAt,
		UpdatedAt:     md.UpdatedAt,
	}
}
